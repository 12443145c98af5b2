package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/tool"
	"github.com/comfyflow/agentmode/pkg/logger"
)

type PlanTasksArgs struct {
	Goal  string   `json:"goal"  jsonschema:"description=The user's goal in one sentence"`
	Tasks []string `json:"tasks" jsonschema:"description=Ordered steps to reach the goal,minItems=1"`
}

type UpdateTaskStatusArgs struct {
	TaskID int        `json:"task_id"        jsonschema:"description=Id returned by plan_tasks"`
	Status TaskStatus `json:"status"         jsonschema:"enum=pending,enum=in_progress,enum=completed,enum=failed"`
	Note   string     `json:"note,omitempty" jsonschema:"description=Short result or error note"`
}

type SaveWorkflowArgs struct {
	WorkflowData WorkflowData `json:"workflow_data"`
}

type noArgs struct{}

// Tools returns the planning and canvas tools bound to ws.
func (w *Workspace) Tools() []llmadapter.Tool {
	return []llmadapter.Tool{
		tool.NewFunc(tool.PlanTasks,
			"Decompose the goal into ordered steps. Call this first.",
			w.planTasks),
		tool.NewFunc(tool.UpdateTaskStatus,
			"Mark a planned step as in_progress, completed or failed.",
			w.updateTaskStatus),
		tool.NewFunc(tool.GetPlanStatus,
			"Show the plan with the status of every step.",
			w.getPlanStatus),
		tool.NewFunc(tool.GetCurrentWorkflowForAgent,
			"Return the workflow currently on the canvas.",
			w.getCurrentWorkflow),
		tool.NewFunc(tool.SaveWorkflow,
			"Place a complete workflow on the canvas. The only tool that changes the canvas.",
			w.saveWorkflow),
	}
}

func (w *Workspace) planTasks(ctx context.Context, in PlanTasksArgs) (any, error) {
	w.track(tool.PlanTasks)
	steps := make([]string, 0, len(in.Tasks))
	for _, s := range in.Tasks {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return nil, invalidArgs(tool.PlanTasks, errors.New("at least one task is required"))
	}
	tasks := w.plan(strings.TrimSpace(in.Goal), steps)
	logger.FromContext(ctx).Info("Agent plan created", "tasks", len(tasks))
	return map[string]any{
		"success": true,
		"tasks":   tasks,
		"message": fmt.Sprintf("Planned %d steps. Work through them in order.", len(tasks)),
	}, nil
}

func (w *Workspace) updateTaskStatus(_ context.Context, in UpdateTaskStatusArgs) (any, error) {
	w.track(tool.UpdateTaskStatus)
	switch in.Status {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
	default:
		return nil, invalidArgs(tool.UpdateTaskStatus, fmt.Errorf("unknown status %q", in.Status))
	}
	task, ok := w.update(in.TaskID, in.Status, strings.TrimSpace(in.Note))
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("task %d does not exist", in.TaskID)}, nil
	}
	return map[string]any{"success": true, "task": task}, nil
}

func (w *Workspace) getPlanStatus(context.Context, noArgs) (any, error) {
	w.track(tool.GetPlanStatus)
	goal, tasks := w.snapshot()
	counts := map[TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return map[string]any{
		"goal":      goal,
		"tasks":     tasks,
		"completed": counts[TaskCompleted],
		"failed":    counts[TaskFailed],
		"remaining": counts[TaskPending] + counts[TaskInProgress],
	}, nil
}

func (w *Workspace) getCurrentWorkflow(context.Context, noArgs) (any, error) {
	w.track(tool.GetCurrentWorkflowForAgent)
	wf := w.CurrentWorkflow()
	if len(wf) == 0 {
		return map[string]any{"workflow": nil, "message": "The canvas is empty."}, nil
	}
	return map[string]any{"workflow": wf, "node_count": len(NodeIDs(wf))}, nil
}

// saveWorkflow reports the saved workflow through the "ext" key, which the
// caller forwards to the canvas as a workflow update.
func (w *Workspace) saveWorkflow(ctx context.Context, in SaveWorkflowArgs) (any, error) {
	w.track(tool.SaveWorkflow)
	wf, err := NormalizeWorkflow(json.RawMessage(in.WorkflowData))
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	w.setWorkflow(wf)
	n := len(NodeIDs(wf))
	logger.FromContext(ctx).Info("Workflow saved to canvas", "nodes", n)
	return map[string]any{
		"success":    true,
		"node_count": n,
		"message":    fmt.Sprintf("Workflow with %d nodes placed on the canvas.", n),
		"ext": []map[string]any{{
			"type": "workflow_update",
			"data": map[string]any{"workflow_data": wf},
		}},
	}, nil
}

func invalidArgs(name string, err error) error {
	return core.NewError(err, tool.ErrCodeInvalidArguments, map[string]any{"tool": name})
}
