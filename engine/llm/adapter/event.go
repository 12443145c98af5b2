package llmadapter

import (
	"context"
	"errors"
	"io"
	"sync"
)

type EventKind string

const (
	EventTextDelta        EventKind = "text_delta"
	EventHandoff          EventKind = "handoff"
	EventToolCallStarted  EventKind = "tool_call_started"
	EventToolCallFinished EventKind = "tool_call_finished"
)

// Event is one item produced by a running agent.
type Event struct {
	Kind      EventKind
	Text      string
	AgentName string
	ToolName  string
	Arguments string
	Output    string
}

// EventStream yields the events of a single run attempt.
// Next returns io.EOF once the run has finished cleanly.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Tool is a named function the agent can call.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, arguments string) (string, error)
}

// ToolSource supplies additional tool schemas from a remote server.
type ToolSource interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
}

// RunInput is everything needed to start one attempt.
type RunInput struct {
	AgentName    string
	Instructions string
	Messages     []Message
	Tools        []Tool
	Sources      []ToolSource
	MaxTurns     int
}

// Engine starts agent runs. Every call to Start begins a fresh attempt.
type Engine interface {
	Start(ctx context.Context, in RunInput) (EventStream, error)
}

var ErrStreamClosed = errors.New("event stream closed")

// ChannelStream is an EventStream fed by a producer goroutine.
type ChannelStream struct {
	events    chan Event
	errc      chan error
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
	err       error
}

func NewChannelStream(buffer int) *ChannelStream {
	return &ChannelStream{
		events: make(chan Event, buffer),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Send delivers an event to the consumer.
func (s *ChannelStream) Send(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish ends the stream with the producer's result. It must be called exactly once.
func (s *ChannelStream) Finish(err error) {
	s.errc <- err
	close(s.events)
}

func (s *ChannelStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		s.endOnce.Do(func() {
			s.err = <-s.errc
			if s.err == nil {
				s.err = io.EOF
			}
		})
		return Event{}, s.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close releases a producer blocked in Send.
func (s *ChannelStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
