package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
)

var (
	ErrEmptyWorkflow   = errors.New("workflow is empty")
	ErrInvalidWorkflow = errors.New("workflow is not a JSON object of nodes")
)

// NormalizeWorkflow accepts a workflow given either as a JSON object or as a
// string containing one, and returns the object. Every entry must be a node
// with a non-empty class_type.
func NormalizeWorkflow(raw json.RawMessage) (json.RawMessage, error) {
	data := strings.TrimSpace(string(raw))
	if data == "" || data == "null" || data == `""` {
		return nil, ErrEmptyWorkflow
	}
	if !gjson.Valid(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidWorkflow)
	}
	doc := gjson.Parse(data)
	if doc.Type == gjson.String {
		inner := strings.TrimSpace(doc.Str)
		if !gjson.Valid(inner) {
			return nil, fmt.Errorf("%w: malformed JSON string", ErrInvalidWorkflow)
		}
		doc = gjson.Parse(inner)
		data = inner
	}
	if !doc.IsObject() {
		return nil, ErrInvalidWorkflow
	}
	// Exports from the UI wrap nodes in a "prompt" key.
	if p := doc.Get("prompt"); p.IsObject() && !doc.Get("prompt.class_type").Exists() {
		doc = p
		data = p.Raw
	}
	nodes := doc.Map()
	if len(nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}
	for id, node := range nodes {
		if !node.IsObject() {
			return nil, fmt.Errorf("%w: node %s is not an object", ErrInvalidWorkflow, id)
		}
		if strings.TrimSpace(node.Get("class_type").String()) == "" {
			return nil, fmt.Errorf("%w: node %s has no class_type", ErrInvalidWorkflow, id)
		}
	}
	return json.RawMessage(data), nil
}

// NodeIDs returns the node ids of a normalized workflow in sorted order.
func NodeIDs(wf json.RawMessage) []string {
	var ids []string
	gjson.ParseBytes(wf).ForEach(func(key, _ gjson.Result) bool {
		ids = append(ids, key.String())
		return true
	})
	sort.Strings(ids)
	return ids
}

// WorkflowData is a tool argument holding a workflow either as an object or
// as a JSON string.
type WorkflowData json.RawMessage

func (d *WorkflowData) UnmarshalJSON(b []byte) error {
	*d = append((*d)[:0], b...)
	return nil
}

func (d WorkflowData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (WorkflowData) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: `Workflow in API format: {"node_id": {"class_type": "Name", "inputs": {...}}}`,
	}
}
