package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/comfyflow/agentmode/pkg/logger"
)

// Handler implements a tool over its decoded argument struct. The returned
// value is marshaled to JSON unless it is already a string or raw JSON.
type Handler[In any] func(ctx context.Context, in In) (any, error)

// FuncTool adapts a typed Go function to the agent tool interface.
type FuncTool[In any] struct {
	name        string
	description string
	handler     Handler[In]

	schemaOnce sync.Once
	schema     map[string]any
}

func NewFunc[In any](name, description string, handler Handler[In]) *FuncTool[In] {
	return &FuncTool[In]{name: name, description: description, handler: handler}
}

func (t *FuncTool[In]) Name() string { return t.name }
func (t *FuncTool[In]) Description() string { return t.description }

func (t *FuncTool[In]) InputSchema() map[string]any {
	t.schemaOnce.Do(func() {
		schema, err := SchemaFor(new(In))
		if err != nil {
			logger.GetDefault().Error("Failed to build tool schema", "tool", t.name, "error", err)
			schema = emptyObjectSchema()
		}
		t.schema = schema
	})
	return t.schema
}

func (t *FuncTool[In]) Call(ctx context.Context, arguments string) (string, error) {
	var in In
	if trimmed := strings.TrimSpace(arguments); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &in); err != nil {
			return "", core.NewError(
				fmt.Errorf("invalid arguments for %s: %w", t.name, err),
				ErrCodeInvalidArguments,
				map[string]any{"tool": t.name},
			)
		}
	}
	out, err := t.handler(ctx, in)
	if err != nil {
		return "", err
	}
	return encodeOutput(out)
}

func encodeOutput(out any) (string, error) {
	switch v := out.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case nil:
		return "null", nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal tool output: %w", err)
	}
	return string(raw), nil
}
