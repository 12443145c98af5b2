package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/tool"
	"github.com/comfyflow/agentmode/engine/tool/workspace"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/tidwall/gjson"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	defaultModelFolder = "checkpoints"
)

type WorkflowArgs struct {
	WorkflowData workspace.WorkflowData `json:"workflow_data,omitempty"`
}

type CheckExecutionArgs struct {
	PromptID string `json:"prompt_id" jsonschema:"description=Id returned by execute_workflow"`
}

type SearchNodesArgs struct {
	Query string `json:"query"           jsonschema:"description=Words to match against node names and categories"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results,minimum=1,maximum=50"`
}

type NodeDetailsArgs struct {
	ClassType string `json:"class_type" jsonschema:"description=Exact class_type from search_nodes"`
}

type ListModelsArgs struct {
	Folder string `json:"folder,omitempty" jsonschema:"description=Model folder such as checkpoints or loras or vae"`
}

// Toolset binds the backend tools to a client and a run workspace.
type Toolset struct {
	client *Client
	ws     *workspace.Workspace
}

func NewToolset(client *Client, ws *workspace.Workspace) *Toolset {
	return &Toolset{client: client, ws: ws}
}

func (s *Toolset) Tools() []llmadapter.Tool {
	return []llmadapter.Tool{
		tool.NewFunc(tool.ValidateWorkflow,
			"Check a workflow (default: the canvas) against the installed nodes.",
			s.validateWorkflow),
		tool.NewFunc(tool.ExecuteWorkflow,
			"Queue a workflow (default: the canvas) for execution.",
			s.executeWorkflow),
		tool.NewFunc(tool.CheckExecutionResult,
			"Check the status and outputs of a queued workflow.",
			s.checkExecutionResult),
		tool.NewFunc(tool.SearchNodes,
			"Find installed nodes and their exact class_type names.",
			s.searchNodes),
		tool.NewFunc(tool.GetNodeDetails,
			"Show the inputs and outputs of a node.",
			s.getNodeDetails),
		tool.NewFunc(tool.ListAvailableModels,
			"List real model file names in a model folder.",
			s.listModels),
	}
}

func (s *Toolset) workflow(data workspace.WorkflowData) (json.RawMessage, error) {
	if len(data) > 0 {
		return workspace.NormalizeWorkflow(json.RawMessage(data))
	}
	current := s.ws.CurrentWorkflow()
	if len(current) == 0 {
		return nil, workspace.ErrEmptyWorkflow
	}
	return current, nil
}

func (s *Toolset) validateWorkflow(ctx context.Context, in WorkflowArgs) (any, error) {
	wf, err := s.workflow(in.WorkflowData)
	if err != nil {
		return map[string]any{"valid": false, "errors": []string{err.Error()}}, nil
	}
	nodes, err := s.client.ObjectInfo(ctx)
	if err != nil {
		return nil, err
	}
	problems := Validate(wf, nodes)
	return map[string]any{"valid": len(problems) == 0, "errors": problems}, nil
}

func (s *Toolset) executeWorkflow(ctx context.Context, in WorkflowArgs) (any, error) {
	wf, err := s.workflow(in.WorkflowData)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	res, err := s.client.QueuePrompt(ctx, wf)
	if err != nil {
		if core.ErrorCode(err) != ErrCodeRejected {
			return nil, err
		}
		return map[string]any{"success": false, "error": err.Error(), "node_errors": res.NodeErrors}, nil
	}
	if len(res.NodeErrors) > 0 {
		return map[string]any{"success": false, "error": "workflow has node errors", "node_errors": res.NodeErrors}, nil
	}
	logger.FromContext(ctx).Info("Workflow queued", "prompt_id", res.PromptID)
	return map[string]any{"success": true, "prompt_id": res.PromptID, "queue_number": res.Number}, nil
}

func (s *Toolset) checkExecutionResult(ctx context.Context, in CheckExecutionArgs) (any, error) {
	id := strings.TrimSpace(in.PromptID)
	if id == "" {
		return map[string]any{"success": false, "error": "prompt_id is required"}, nil
	}
	entry, ok, err := s.client.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"prompt_id": id, "status": "pending", "completed": false}, nil
	}
	return map[string]any{
		"prompt_id": id,
		"status":    entry.Status.StatusStr,
		"completed": entry.Status.Completed,
		"files":     outputFiles(entry.Outputs),
	}, nil
}

func (s *Toolset) searchNodes(ctx context.Context, in SearchNodesArgs) (any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return map[string]any{"results": []any{}, "error": "query is required"}, nil
	}
	nodes, err := s.client.ObjectInfo(ctx)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)
	return map[string]any{"results": Search(nodes, query, limit)}, nil
}

func (s *Toolset) getNodeDetails(ctx context.Context, in NodeDetailsArgs) (any, error) {
	classType := strings.TrimSpace(in.ClassType)
	node, ok, err := s.client.Node(ctx, classType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{
			"found": false,
			"error": fmt.Sprintf("node %q is not installed; use search_nodes to find the exact name", classType),
		}, nil
	}
	return describeNode(classType, node), nil
}

func (s *Toolset) listModels(ctx context.Context, in ListModelsArgs) (any, error) {
	folder := strings.TrimSpace(in.Folder)
	if folder == "" {
		folder = defaultModelFolder
	}
	files, err := s.client.Models(ctx, folder)
	if err != nil {
		var folders []string
		if all, ferr := s.client.ModelFolders(ctx); ferr == nil {
			folders = all
		}
		return map[string]any{"folder": folder, "models": []string{}, "error": err.Error(), "folders": folders}, nil
	}
	return map[string]any{"folder": folder, "models": files}, nil
}

// Match is one search result.
type Match struct {
	ClassType   string `json:"class_type"`
	DisplayName string `json:"display_name,omitempty"`
	Category    string `json:"category,omitempty"`
	score       int
}

// Search ranks nodes whose name, display name or category contain every query word.
func Search(nodes map[string]NodeInfo, query string, limit int) []Match {
	words := strings.Fields(strings.ToLower(query))
	out := []Match{}
	for classType, n := range nodes {
		name := strings.ToLower(classType)
		display := strings.ToLower(n.DisplayName)
		hay := name + " " + display + " " + strings.ToLower(n.Category)
		score := 0
		for _, w := range words {
			switch {
			case name == w || display == w:
				score += 10
			case strings.Contains(name, w) || strings.Contains(display, w):
				score += 3
			case strings.Contains(hay, w):
				score++
			default:
				score = -1
			}
			if score < 0 {
				break
			}
		}
		if score <= 0 {
			continue
		}
		out = append(out, Match{ClassType: classType, DisplayName: n.DisplayName, Category: n.Category, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].ClassType < out[j].ClassType
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type nodeOutput struct {
	Index int    `json:"index"`
	Type  any    `json:"type"`
	Name  string `json:"name,omitempty"`
}

func describeNode(classType string, n NodeInfo) map[string]any {
	outputs := make([]nodeOutput, 0, len(n.Output))
	for i, t := range n.Output {
		o := nodeOutput{Index: i, Type: t}
		if i < len(n.OutputName) {
			o.Name = n.OutputName[i]
		}
		outputs = append(outputs, o)
	}
	return map[string]any{
		"found":       true,
		"class_type":  classType,
		"category":    n.Category,
		"description": n.Description,
		"required":    inputTypes(n.Input.Required),
		"optional":    inputTypes(n.Input.Optional),
		"outputs":     outputs,
	}
}

// inputTypes reduces an input spec to its type name, or to its choices when
// the input is a combo.
func inputTypes(spec map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(spec))
	for name, raw := range spec {
		first := gjson.GetBytes(raw, "0")
		switch {
		case first.IsArray():
			var choices []any
			for _, c := range first.Array() {
				choices = append(choices, c.Value())
			}
			out[name] = map[string]any{"type": "COMBO", "choices": choices}
		case first.Exists():
			out[name] = first.String()
		default:
			out[name] = "UNKNOWN"
		}
	}
	return out
}

func outputFiles(outputs map[string]json.RawMessage) []map[string]string {
	var files []map[string]string
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		gjson.ParseBytes(outputs[id]).ForEach(func(_, group gjson.Result) bool {
			if !group.IsArray() {
				return true
			}
			for _, f := range group.Array() {
				if name := f.Get("filename").String(); name != "" {
					files = append(files, map[string]string{
						"node_id":   id,
						"filename":  name,
						"subfolder": f.Get("subfolder").String(),
						"type":      f.Get("type").String(),
					})
				}
			}
			return true
		})
	}
	return files
}
