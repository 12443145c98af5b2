package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/kaptinlin/jsonschema"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// remoteTool is a tool served by a connected Source.
type remoteTool struct {
	source *Source
	def    mcpproto.Tool
	schema map[string]any
	// nil when the server schema does not compile; arguments then go through unchecked.
	compiled *jsonschema.Schema
}

func newRemoteTool(source *Source, def mcpproto.Tool) *remoteTool {
	schema := convertSchema(&def)
	return &remoteTool{source: source, def: def, schema: schema, compiled: compileSchema(schema)}
}

func (t *remoteTool) Name() string { return t.def.Name }
func (t *remoteTool) Description() string { return t.def.Description }
func (t *remoteTool) InputSchema() map[string]any { return t.schema }

func (t *remoteTool) Call(ctx context.Context, arguments string) (string, error) {
	args := map[string]any{}
	if trimmed := strings.TrimSpace(arguments); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return "", core.NewError(err, ErrCodeToolCall, map[string]any{"tool": t.def.Name, "reason": "invalid arguments"})
		}
	}
	if t.compiled != nil {
		if result := t.compiled.Validate(args); !result.Valid {
			return "", core.NewError(
				fmt.Errorf("arguments for %s do not match its schema: %v", t.def.Name, result.Errors),
				ErrCodeToolCall,
				map[string]any{"tool": t.def.Name, "reason": "schema validation failed"},
			)
		}
	}
	return t.source.call(ctx, t.def.Name, args)
}

func compileSchema(schema map[string]any) *jsonschema.Schema {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil
	}
	return compiled
}

// convertSchema turns a tool's input schema into a plain object schema that
// always has "properties", since some providers reject "required" without it.
func convertSchema(def *mcpproto.Tool) map[string]any {
	out := map[string]any{}
	if len(def.RawInputSchema) > 0 {
		if err := json.Unmarshal(def.RawInputSchema, &out); err != nil {
			out = map[string]any{}
		}
	} else {
		if len(def.InputSchema.Properties) > 0 {
			out["properties"] = def.InputSchema.Properties
		}
		if len(def.InputSchema.Required) > 0 {
			out["required"] = def.InputSchema.Required
		}
	}
	out["type"] = "object"
	if _, ok := out["properties"].(map[string]any); !ok {
		out["properties"] = map[string]any{}
	}
	return out
}
