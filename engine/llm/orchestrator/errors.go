package orchestrator

import "errors"

const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeStateMachine   = "STATE_MACHINE_ERROR"
)

var (
	// ErrUnclassified wraps failures no rule recognizes. They are never retried.
	ErrUnclassified = errors.New("unclassified agent failure")
	// ErrRetriesExhausted wraps transient failures left after the retry budget.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)
