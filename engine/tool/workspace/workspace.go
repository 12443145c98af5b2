// Package workspace holds the per-run state behind the planning and canvas tools.
package workspace

import (
	"encoding/json"
	"sync"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one step of the agent's plan.
type Task struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Note        string     `json:"note,omitempty"`
}

// Workspace is created for each logical request and discarded afterwards,
// so the plan, the tool tracker and the canvas never leak between runs.
type Workspace struct {
	mu       sync.Mutex
	goal     string
	tasks    []Task
	calls    map[string]int
	workflow json.RawMessage
	saves    int
}

// New returns a workspace seeded with the caller's current canvas, if any.
func New(current json.RawMessage) *Workspace {
	ws := &Workspace{calls: map[string]int{}}
	if len(current) > 0 {
		ws.workflow = append(json.RawMessage(nil), current...)
	}
	return ws
}

// Reset clears the plan and the tool tracker. The canvas is kept.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.goal = ""
	w.tasks = nil
	w.calls = map[string]int{}
}

func (w *Workspace) track(tool string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[tool]++
	return w.calls[tool]
}

// Calls returns how many times each tool was invoked in this run.
func (w *Workspace) Calls() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.calls))
	for k, v := range w.calls {
		out[k] = v
	}
	return out
}

// CurrentWorkflow returns the workflow the canvas holds now.
func (w *Workspace) CurrentWorkflow() json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workflow
}

// Saves reports how many workflows were placed on the canvas.
func (w *Workspace) Saves() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saves
}

func (w *Workspace) setWorkflow(wf json.RawMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workflow = wf
	w.saves++
}

func (w *Workspace) plan(goal string, steps []string) []Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.goal = goal
	w.tasks = make([]Task, 0, len(steps))
	for i, s := range steps {
		w.tasks = append(w.tasks, Task{ID: i + 1, Description: s, Status: TaskPending})
	}
	return append([]Task(nil), w.tasks...)
}

func (w *Workspace) update(id int, status TaskStatus, note string) (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.tasks {
		if w.tasks[i].ID == id {
			w.tasks[i].Status = status
			if note != "" {
				w.tasks[i].Note = note
			}
			return w.tasks[i], true
		}
	}
	return Task{}, false
}

func (w *Workspace) snapshot() (string, []Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.goal, append([]Task(nil), w.tasks...)
}
