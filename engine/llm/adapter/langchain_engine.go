package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
)

const (
	ErrCodeMaxTurns    = "MAX_TURNS_EXCEEDED"
	ErrCodeEmptyChoice = "EMPTY_MODEL_RESPONSE"
	ErrCodeToolSource  = "TOOL_SOURCE_FAILED"

	defaultMaxTurns     = 25
	defaultStreamBuffer = 32
)

// LangchainEngine drives a tool-calling loop on top of a langchaingo model.
type LangchainEngine struct {
	model llms.Model
}

func NewLangchainEngine(model llms.Model) *LangchainEngine {
	return &LangchainEngine{model: model}
}

// Start lists the available tools and launches the turn loop in the background.
func (e *LangchainEngine) Start(ctx context.Context, in RunInput) (EventStream, error) {
	tools, err := collectTools(ctx, in)
	if err != nil {
		return nil, err
	}
	stream := NewChannelStream(defaultStreamBuffer)
	go func() {
		stream.Finish(e.run(ctx, in, tools, stream))
	}()
	return stream, nil
}

// collectTools merges local tools with remote ones; local names win.
func collectTools(ctx context.Context, in RunInput) ([]Tool, error) {
	seen := make(map[string]struct{}, len(in.Tools))
	tools := make([]Tool, 0, len(in.Tools))
	for _, t := range in.Tools {
		seen[t.Name()] = struct{}{}
		tools = append(tools, t)
	}
	for _, src := range in.Sources {
		remote, err := src.ListTools(ctx)
		if err != nil {
			return nil, core.NewError(err, ErrCodeToolSource, map[string]any{"source": src.Name()})
		}
		for _, t := range remote {
			if _, dup := seen[t.Name()]; dup {
				continue
			}
			seen[t.Name()] = struct{}{}
			tools = append(tools, t)
		}
	}
	return tools, nil
}

func (e *LangchainEngine) run(ctx context.Context, in RunInput, tools []Tool, out *ChannelStream) error {
	if in.AgentName != "" {
		if err := out.Send(ctx, Event{Kind: EventHandoff, AgentName: in.AgentName}); err != nil {
			return err
		}
	}
	maxTurns := in.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	messages := toMessageContents(in.Instructions, in.Messages)
	options := []llms.CallOption{}
	if len(tools) > 0 {
		options = append(options, llms.WithTools(toLLMTools(tools)))
	}
	for turn := 0; turn < maxTurns; turn++ {
		choice, err := e.generate(ctx, messages, options, out)
		if err != nil {
			return err
		}
		if len(choice.ToolCalls) == 0 {
			return nil
		}
		messages = append(messages, assistantMessage(choice))
		for _, call := range choice.ToolCalls {
			if call.FunctionCall == nil {
				continue
			}
			name, args := call.FunctionCall.Name, call.FunctionCall.Arguments
			if err := out.Send(ctx, Event{Kind: EventToolCallStarted, ToolName: name, Arguments: args}); err != nil {
				return err
			}
			output := invokeTool(ctx, byName, name, args)
			if err := out.Send(ctx, Event{Kind: EventToolCallFinished, ToolName: name, Output: output}); err != nil {
				return err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       name,
					Content:    output,
				}},
			})
		}
	}
	return core.NewError(
		fmt.Errorf("max turns (%d) exceeded", maxTurns),
		ErrCodeMaxTurns,
		map[string]any{"max_turns": maxTurns},
	)
}

// generate performs one model call, streaming visible text as it arrives.
func (e *LangchainEngine) generate(
	ctx context.Context,
	messages []llms.MessageContent,
	options []llms.CallOption,
	out *ChannelStream,
) (*llms.ContentChoice, error) {
	streamed := false
	stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 || isToolCallChunk(chunk) {
			return nil
		}
		streamed = true
		return out.Send(ctx, Event{Kind: EventTextDelta, Text: string(chunk)})
	})
	resp, err := e.model.GenerateContent(ctx, messages, append(options, stream)...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, core.NewError(fmt.Errorf("model returned no choices"), ErrCodeEmptyChoice, nil)
	}
	choice := resp.Choices[0]
	if !streamed && choice.Content != "" {
		if err := out.Send(ctx, Event{Kind: EventTextDelta, Text: choice.Content}); err != nil {
			return nil, err
		}
	}
	return choice, nil
}

// isToolCallChunk detects the JSON tool-call deltas some providers push
// through the streaming callback.
func isToolCallChunk(chunk []byte) bool {
	return gjson.ValidBytes(chunk) && gjson.GetBytes(chunk, "0.function").Exists()
}

func invokeTool(ctx context.Context, byName map[string]Tool, name, args string) string {
	log := logger.FromContext(ctx)
	t, ok := byName[name]
	if !ok {
		log.Warn("Model called an unknown tool", "tool", name)
		return errorOutput(fmt.Errorf("tool not found: %s", name))
	}
	output, err := t.Call(ctx, args)
	if err != nil {
		log.Warn("Tool call failed", "tool", name, "error", core.RedactError(err))
		return errorOutput(err)
	}
	return output
}

func errorOutput(err error) string {
	data, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return `{"error":"tool failed"}`
	}
	return string(data)
}

func assistantMessage(choice *llms.ContentChoice) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: choice.Content})
	}
	for _, call := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

func toMessageContents(instructions string, messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if instructions != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, instructions))
	}
	for _, m := range messages {
		content := llms.MessageContent{Role: mapMessageRole(m.Role)}
		if m.IsPlainText() {
			content.Parts = []llms.ContentPart{llms.TextContent{Text: m.Content}}
		} else {
			for _, p := range m.Parts {
				switch p.Type {
				case PartText:
					content.Parts = append(content.Parts, llms.TextContent{Text: p.Text})
				case PartImageURL:
					content.Parts = append(content.Parts, llms.ImageURLContent{URL: p.ImageURL})
				}
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		out = append(out, content)
	}
	return out
}

func mapMessageRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func toLLMTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.InputSchema(),
			},
		})
	}
	return out
}
