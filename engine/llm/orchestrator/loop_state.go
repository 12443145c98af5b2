package orchestrator

import "time"

// RunAttemptState holds the counters of one logical run. It is created once
// per request and carried across retries, so the timeout and the repetition
// window keep counting when an attempt is restarted.
type RunAttemptState struct {
	startedAt time.Time
	now       func() time.Time
	toolCalls int
	detector  *LoopDetector
}

func newRunAttemptState(now func() time.Time, window int) *RunAttemptState {
	return &RunAttemptState{
		startedAt: now(),
		now:       now,
		detector:  NewLoopDetector(window),
	}
}

func (s *RunAttemptState) Elapsed() time.Duration {
	return s.now().Sub(s.startedAt)
}

func (s *RunAttemptState) ToolCalls() int {
	return s.toolCalls
}

// observeToolCall counts the call and returns its repeat count in the window.
func (s *RunAttemptState) observeToolCall(toolName, arguments string) int {
	s.toolCalls++
	return s.detector.Observe(Fingerprint(toolName, arguments))
}
