package orchestrator

import (
	"encoding/json"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
)

// Request is one logical user request.
type Request struct {
	RunID core.ID
	// Messages is the conversation; the last message is the current goal.
	Messages []llmadapter.Message
	// TokenBudget bounds the history passed to the engine.
	TokenBudget int
	// Input carries the agent, instructions, tools and sources. Its Messages
	// field is replaced by the truncated history on every attempt.
	Input llmadapter.RunInput
}

// Outcome summarizes a finished logical run.
type Outcome struct {
	RunID        core.ID
	State        string
	Text         string
	Ext          json.RawMessage
	ToolCalls    int
	Attempts     int
	Retries      int
	Category     Category
	Hallucinated bool
}
