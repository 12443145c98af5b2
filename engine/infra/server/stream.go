package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/comfyflow/agentmode/engine/agentmode"
	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/streaming"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	streamTracerName      = "agentmode.stream"
	sessionHeader         = "X-Session-Id"
	runIDHeader           = "X-Run-Id"
	defaultHeartbeatEvery = 15 * time.Second
)

// AgentStreamer runs one agent mode request.
type AgentStreamer interface {
	Stream(ctx context.Context, req agentmode.Request) <-chan streaming.Chunk
}

// StreamRequest is the body of POST /api/v0/agent-mode/stream.
type StreamRequest struct {
	SessionID string                      `json:"session_id,omitempty"`
	Messages  []llmadapter.Message        `json:"messages"           binding:"required,min=1"`
	Workflow  json.RawMessage             `json:"workflow,omitempty"`
	Provider  *agentmode.ProviderSettings `json:"provider,omitempty"`
}

type streamHandler struct {
	agent     AgentStreamer
	heartbeat time.Duration
}

// Stream agent mode output
//
//	@Summary		Run agent mode
//	@Description	Runs the workflow-building agent and streams its output as Server-Sent Events.
//	@Description	Every event carries the accumulated text; the last one has type "final".
//	@Tags			agent-mode
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			X-Session-Id	header		string			false	"Session id, when not in the body"
//	@Param			request			body		StreamRequest	true	"Conversation and canvas"
//	@Success		200				{string}	string			"SSE stream"
//	@Failure		400				{object}	ErrorInfo		"Invalid request"
//	@Router			/agent-mode/stream [post]
func (h *streamHandler) handle(c *gin.Context) {
	var body StreamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, ErrBadRequestCode, err)
		return
	}
	sessionID := strings.TrimSpace(body.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader(sessionHeader))
	}
	runID, err := core.NewID()
	if err != nil {
		respondError(c, http.StatusInternalServerError, ErrInternalCode, err)
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ctx, span := otel.Tracer(streamTracerName).Start(
		ctx,
		"stream.agent_mode",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("stream.run_id", runID.String())),
	)
	defer span.End()
	log := logger.FromContext(ctx).With("run_id", runID)
	ctx = logger.ContextWithLogger(ctx, log)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(runIDHeader, runID.String())
	c.Status(http.StatusOK)
	c.Writer.Flush()
	log.Info("Agent mode stream connected", "session_id", sessionID, "messages", len(body.Messages))

	chunks := h.agent.Stream(ctx, agentmode.Request{
		RunID:     runID,
		SessionID: sessionID,
		Messages:  body.Messages,
		Workflow:  body.Workflow,
		Provider:  body.Provider,
	})
	events, reason := h.pump(ctx, c.Writer, runID, chunks)
	span.SetAttributes(attribute.Int64("stream.events", events), attribute.String("stream.close_reason", reason))
	log.Info("Agent mode stream closed", "events", events, "reason", reason)
}

// pump writes chunks until the channel closes or the client goes away.
func (h *streamHandler) pump(
	ctx context.Context,
	w gin.ResponseWriter,
	runID core.ID,
	chunks <-chan streaming.Chunk,
) (int64, string) {
	log := logger.FromContext(ctx)
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	var id int64
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return id, "completed"
			}
			id++
			env, err := streaming.NewEnvelope(id, runID, chunk, time.Now())
			if err != nil {
				log.Error("Failed to encode stream event", "error", err)
				continue
			}
			if err := writeEvent(w, env); err != nil {
				log.Debug("Client disconnected during stream", "error", err)
				return id, "client_gone"
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return id, "client_gone"
			}
			w.Flush()
		case <-ctx.Done():
			return id, "context_canceled"
		}
	}
}

func writeEvent(w gin.ResponseWriter, env streaming.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.ID, env.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
