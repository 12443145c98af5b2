package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/streaming"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/tidwall/gjson"
)

// Termination tells how an attempt's stream ended without error.
type Termination string

const (
	TerminationEnd        Termination = "end"
	TerminationHardKilled Termination = "hard_killed"
	TerminationTimedOut   Termination = "timed_out"
)

// sideChannelKey is the reserved tool output field carrying canvas updates.
const sideChannelKey = "ext"

// infoOnlyTools do not change the canvas.
var infoOnlyTools = map[string]struct{}{
	"explain_node": {},
	"search_node":  {},
}

// EmitFunc delivers a chunk to the caller.
type EmitFunc func(streaming.Chunk) error

// emitError marks a failure to deliver output, which is never retried.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return "emit chunk: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// accumulator is the visible text of a logical run plus the latest side payload.
type accumulator struct {
	text strings.Builder
	ext  json.RawMessage
}

func (a *accumulator) append(s string) {
	a.text.WriteString(s)
}

func (a *accumulator) String() string {
	return a.text.String()
}

func (a *accumulator) Len() int {
	return a.text.Len()
}

// streamProcessor consumes one attempt's events.
type streamProcessor struct {
	state       *RunAttemptState
	out         *accumulator
	hardTimeout time.Duration
	threshold   int
	emit        EmitFunc
	onToolCall  func(toolName string)
}

// Process reads events until the stream ends, the hard timeout is exceeded,
// or a repeated tool call trips the hard kill. Timeout and hard-kill messages
// are appended to the output but left for the final emission.
func (p *streamProcessor) Process(ctx context.Context, stream llmadapter.EventStream) (Termination, error) {
	log := logger.FromContext(ctx)
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return TerminationEnd, nil
		}
		if err != nil {
			return TerminationEnd, err
		}
		if elapsed := p.state.Elapsed(); elapsed > p.hardTimeout {
			log.Warn("Agent run exceeded hard timeout", "elapsed", elapsed, "hard_timeout", p.hardTimeout)
			p.out.append(timedOutMessage(elapsed))
			return TerminationTimedOut, nil
		}
		switch ev.Kind {
		case llmadapter.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			p.out.append(ev.Text)
			if err := p.send(streaming.Chunk{Text: p.out.String()}); err != nil {
				return TerminationEnd, err
			}
		case llmadapter.EventHandoff:
			log.Info("Agent handoff", "agent", ev.AgentName)
			p.out.append(handoffMarker(ev.AgentName))
			if err := p.send(streaming.Chunk{Text: p.out.String()}); err != nil {
				return TerminationEnd, err
			}
		case llmadapter.EventToolCallStarted:
			if stop := p.toolCallStarted(ctx, ev); stop {
				return TerminationHardKilled, nil
			}
		case llmadapter.EventToolCallFinished:
			ext, ok := extractSideChannel(ev.Output)
			if !ok {
				continue
			}
			p.out.ext = ext
			if err := p.send(streaming.Chunk{Text: p.out.String(), Ext: ext}); err != nil {
				return TerminationEnd, err
			}
		}
	}
}

func (p *streamProcessor) toolCallStarted(ctx context.Context, ev llmadapter.Event) bool {
	log := logger.FromContext(ctx)
	log.Info("Tool call", "tool", ev.ToolName)
	if p.onToolCall != nil {
		p.onToolCall(ev.ToolName)
	}
	if _, ok := infoOnlyTools[ev.ToolName]; ok {
		log.Warn("Model called an info-only tool; it does not place nodes on the canvas", "tool", ev.ToolName)
	}
	repeats := p.state.observeToolCall(ev.ToolName, ev.Arguments)
	if repeats < p.threshold {
		return false
	}
	log.Error("Hard kill: tool repeated with identical arguments", "tool", ev.ToolName, "repeats", repeats)
	p.out.append(hardKillMessage(ev.ToolName, repeats))
	return true
}

func (p *streamProcessor) send(chunk streaming.Chunk) error {
	if err := p.emit(chunk); err != nil {
		return &emitError{err: err}
	}
	return nil
}

// extractSideChannel returns the reserved field of a JSON object output when
// it holds a non-empty value. Malformed output has no side channel.
func extractSideChannel(output string) (json.RawMessage, bool) {
	if !gjson.Valid(output) {
		return nil, false
	}
	doc := gjson.Parse(output)
	if !doc.IsObject() {
		return nil, false
	}
	ext := doc.Get(sideChannelKey)
	if !ext.Exists() || !truthy(ext) {
		return nil, false
	}
	return json.RawMessage(ext.Raw), true
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		if v.IsArray() {
			return len(v.Array()) > 0
		}
		return len(v.Map()) > 0
	default:
		return true
	}
}
