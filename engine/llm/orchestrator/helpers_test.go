package orchestrator

import (
	"context"
	"io"
	"sync"
	"time"

	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/streaming"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeAttempt struct {
	events   []llmadapter.Event
	err      error
	startErr error
	// beforeNext runs before the event at index i is returned.
	beforeNext func(i int)
	block      bool
}

type fakeEngine struct {
	attempts []fakeAttempt
	inputs   []llmadapter.RunInput
	streams  []*sliceStream
}

func (e *fakeEngine) Start(_ context.Context, in llmadapter.RunInput) (llmadapter.EventStream, error) {
	idx := len(e.inputs)
	e.inputs = append(e.inputs, in)
	a := fakeAttempt{}
	if idx < len(e.attempts) {
		a = e.attempts[idx]
	}
	if a.startErr != nil {
		return nil, a.startErr
	}
	s := &sliceStream{attempt: a}
	e.streams = append(e.streams, s)
	return s, nil
}

func (e *fakeEngine) Starts() int {
	return len(e.inputs)
}

type sliceStream struct {
	attempt fakeAttempt
	pos     int
	closed  bool
}

func (s *sliceStream) Next(ctx context.Context) (llmadapter.Event, error) {
	if s.attempt.beforeNext != nil {
		s.attempt.beforeNext(s.pos)
	}
	if s.pos < len(s.attempt.events) {
		ev := s.attempt.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.attempt.block {
		<-ctx.Done()
		return llmadapter.Event{}, ctx.Err()
	}
	if s.attempt.err != nil {
		return llmadapter.Event{}, s.attempt.err
	}
	return llmadapter.Event{}, io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type recorder struct {
	chunks []streaming.Chunk
}

func (r *recorder) Emit(c streaming.Chunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *recorder) Final() streaming.Chunk {
	return r.chunks[len(r.chunks)-1]
}

func (r *recorder) FinishedCount() int {
	n := 0
	for _, c := range r.chunks {
		if c.Finished {
			n++
		}
	}
	return n
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func textDelta(s string) llmadapter.Event {
	return llmadapter.Event{Kind: llmadapter.EventTextDelta, Text: s}
}

func handoff(name string) llmadapter.Event {
	return llmadapter.Event{Kind: llmadapter.EventHandoff, AgentName: name}
}

func toolStarted(name, args string) llmadapter.Event {
	return llmadapter.Event{Kind: llmadapter.EventToolCallStarted, ToolName: name, Arguments: args}
}

func toolFinished(output string) llmadapter.Event {
	return llmadapter.Event{Kind: llmadapter.EventToolCallFinished, Output: output}
}

func userRequest(contents ...string) Request {
	msgs := make([]llmadapter.Message, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, llmadapter.TextMessage(llmadapter.RoleUser, c))
	}
	return Request{Messages: msgs, Input: llmadapter.RunInput{AgentName: "ComfyUI-Agent"}}
}

func newTestOrchestrator(engine llmadapter.Engine, cfg Config, clock *fakeClock, sleeper *sleepRecorder) *Orchestrator {
	return New(engine, cfg, WithClock(clock.Now), WithSleeper(sleeper.Sleep))
}
