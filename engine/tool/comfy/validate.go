package comfy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// Validate checks a normalized workflow against installed node definitions:
// every class_type must exist, required inputs must be set, and links must
// point at an existing node output.
func Validate(wf json.RawMessage, nodes map[string]NodeInfo) []string {
	problems := []string{}
	graph := gjson.ParseBytes(wf).Map()
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := graph[id]
		classType := node.Get("class_type").String()
		info, ok := nodes[classType]
		if !ok {
			problems = append(problems, fmt.Sprintf("node %s: class_type %q is not installed", id, classType))
			continue
		}
		inputs := node.Get("inputs")
		names := make([]string, 0, len(info.Input.Required))
		for name := range info.Input.Required {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !inputs.Get(gjson.Escape(name)).Exists() {
				problems = append(problems, fmt.Sprintf("node %s (%s): missing required input %q", id, classType, name))
			}
		}
		inputs.ForEach(func(key, value gjson.Result) bool {
			if p := checkLink(id, key.String(), value, graph, nodes); p != "" {
				problems = append(problems, p)
			}
			return true
		})
	}
	return problems
}

func checkLink(id, input string, value gjson.Result, graph map[string]gjson.Result, nodes map[string]NodeInfo) string {
	if !value.IsArray() {
		return ""
	}
	parts := value.Array()
	if len(parts) != 2 || parts[0].Type != gjson.String || parts[1].Type != gjson.Number {
		return ""
	}
	src, ok := graph[parts[0].Str]
	if !ok {
		return fmt.Sprintf("node %s: input %q links to missing node %s", id, input, parts[0].Str)
	}
	info, ok := nodes[src.Get("class_type").String()]
	if !ok {
		return ""
	}
	if idx := int(parts[1].Int()); idx < 0 || idx >= len(info.Output) {
		return fmt.Sprintf("node %s: input %q uses output %d of node %s, which has %d outputs",
			id, input, idx, parts[0].Str, len(info.Output))
	}
	return ""
}
