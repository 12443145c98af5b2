package orchestrator

import (
	"context"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/looplab/fsm"
)

const (
	StateStarting   = "starting"
	StateStreaming  = "streaming"
	StateRetrying   = "retrying"
	StateCompleted  = "completed"
	StateHardKilled = "hard_killed"
	StateTimedOut   = "timed_out"
	StateAborted    = "aborted"
	StateFailed     = "failed"
)

const (
	EventStarted  = "started"
	EventRetry    = "retry"
	EventResume   = "resume"
	EventComplete = "complete"
	EventHardKill = "hard_kill"
	EventTimeOut  = "time_out"
	EventAbort    = "abort"
	EventFail     = "fail"
)

func runFSMEvents() fsm.Events {
	return fsm.Events{
		{Name: EventStarted, Src: []string{StateStarting}, Dst: StateStreaming},
		{Name: EventRetry, Src: []string{StateStreaming}, Dst: StateRetrying},
		{Name: EventResume, Src: []string{StateRetrying}, Dst: StateStreaming},
		{Name: EventComplete, Src: []string{StateStreaming}, Dst: StateCompleted},
		{Name: EventHardKill, Src: []string{StateStreaming}, Dst: StateHardKilled},
		{Name: EventTimeOut, Src: []string{StateStreaming}, Dst: StateTimedOut},
		{Name: EventAbort, Src: []string{StateStreaming}, Dst: StateAborted},
		{Name: EventFail, Src: []string{StateStarting, StateStreaming, StateRetrying}, Dst: StateFailed},
	}
}

// IsTerminal reports whether state ends a logical run.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateHardKilled, StateTimedOut, StateAborted, StateFailed:
		return true
	default:
		return false
	}
}

type transitionObserver struct {
	runID core.ID
}

func newRunFSM(runID core.ID) *fsm.FSM {
	observer := &transitionObserver{runID: runID}
	return fsm.NewFSM(
		StateStarting,
		runFSMEvents(),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) { observer.EnterState(ctx, e) },
		},
	)
}

func (o *transitionObserver) EnterState(ctx context.Context, e *fsm.Event) {
	logger.FromContext(ctx).Debug(
		"Run state entered",
		"run_id", o.runID,
		"event", e.Event,
		"from_state", e.Src,
		"to_state", e.Dst,
	)
}
