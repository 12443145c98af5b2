package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
)

// EventType enumerates stream event categories surfaced to clients.
type EventType string

const (
	EventTypeChunk EventType = "chunk"
	EventTypeFinal EventType = "final"
)

// Envelope is the transport representation of a chunk.
type Envelope struct {
	ID        int64           `json:"id"`
	RunID     core.ID         `json:"run_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps a chunk for transport.
func NewEnvelope(id int64, runID core.ID, chunk Chunk, ts time.Time) (Envelope, error) {
	if runID.IsZero() {
		return Envelope{}, fmt.Errorf("streaming: run id is required")
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return Envelope{}, fmt.Errorf("streaming: marshal payload: %w", err)
	}
	eventType := EventTypeChunk
	if chunk.Finished {
		eventType = EventTypeFinal
	}
	return Envelope{
		ID:        id,
		RunID:     runID,
		Type:      eventType,
		Timestamp: ts.UTC(),
		Data:      payload,
	}, nil
}
