package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/llm/tokens"
	"github.com/comfyflow/agentmode/engine/streaming"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/comfyflow/agentmode/engine/llm/orchestrator"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator drives logical runs against an Engine.
type Orchestrator struct {
	engine     llmadapter.Engine
	settings   settings
	estimator  tokens.Estimator
	classifier *Classifier
	metrics    *Metrics
	now        func() time.Time
	sleep      SleepFunc
}

type Option func(*Orchestrator)

func WithEstimator(est tokens.Estimator) Option {
	return func(o *Orchestrator) {
		if est != nil {
			o.estimator = est
		}
	}
}

func WithClassifier(c *Classifier) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.classifier = c
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper replaces the retry delay.
func WithSleeper(sleep SleepFunc) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func New(engine llmadapter.Engine, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:     engine,
		settings:   buildSettings(cfg),
		estimator:  tokens.RatioEstimator{},
		classifier: defaultClassifier,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the state of one logical request.
type run struct {
	o         *Orchestrator
	req       Request
	emit      EmitFunc
	machine   *fsm.FSM
	state     *RunAttemptState
	out       accumulator
	processor *streamProcessor
	outcome   Outcome
	log       logger.Logger
}

// Run executes a logical request, emitting every incremental chunk and then
// exactly one final chunk with Finished set. No final chunk is emitted when
// an unclassified error is returned, when ctx is cancelled, or when emit fails.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) (Outcome, error) {
	if req.RunID.IsZero() {
		id, err := core.NewID()
		if err != nil {
			return Outcome{}, err
		}
		req.RunID = id
	}
	if len(req.Messages) == 0 {
		return Outcome{RunID: req.RunID, State: StateFailed}, core.NewError(
			errors.New("at least one message is required"),
			ErrCodeInvalidRequest,
			nil,
		)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agentmode.run")
	defer span.End()
	log := logger.FromContext(ctx).With("run_id", req.RunID)
	ctx = logger.ContextWithLogger(ctx, log)

	r := &run{
		o:       o,
		req:     req,
		emit:    emit,
		machine: newRunFSM(req.RunID),
		state:   newRunAttemptState(o.now, o.settings.repeatWindow),
		outcome: Outcome{RunID: req.RunID},
		log:     log,
	}
	r.processor = &streamProcessor{
		state:       r.state,
		out:         &r.out,
		hardTimeout: o.settings.hardTimeout,
		threshold:   o.settings.hardKillThreshold,
		emit:        emit,
		onToolCall:  func(tool string) { o.metrics.recordToolCall(ctx, tool) },
	}
	err := r.execute(ctx)
	r.outcome.State = r.machine.Current()
	r.outcome.Text = r.out.String()
	r.outcome.Ext = r.out.ext
	r.outcome.ToolCalls = r.state.ToolCalls()
	o.metrics.recordRun(ctx, r.outcome.State, r.state.Elapsed())
	span.SetAttributes(
		attribute.String("run.id", req.RunID.String()),
		attribute.String("run.outcome", r.outcome.State),
		attribute.Int("run.attempts", r.outcome.Attempts),
		attribute.Int("run.tool_calls", r.outcome.ToolCalls),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, core.RedactError(err))
	}
	log.Info(
		"Agent run finished",
		"state", r.outcome.State,
		"attempts", r.outcome.Attempts,
		"retries", r.outcome.Retries,
		"tool_calls", r.outcome.ToolCalls,
	)
	return r.outcome, err
}

func (r *run) execute(ctx context.Context) error {
	s := r.o.settings
	budget := defaultInt(r.req.TokenBudget, defaultTokenBudget)
	history := tokens.Truncate(r.req.Messages, budget, r.o.estimator)
	if len(history) < len(r.req.Messages) {
		r.log.Info("Truncated conversation history", "kept", len(history), "total", len(r.req.Messages))
	}
	messages := history
	if err := r.transition(ctx, EventStarted); err != nil {
		return err
	}
	for {
		term, err := r.attempt(ctx, messages)
		if err == nil {
			return r.finish(ctx, term)
		}
		if stop, quietErr := r.interrupted(ctx, err); stop {
			return quietErr
		}
		cat := r.o.classifier.Classify(err)
		r.outcome.Category = cat
		r.outcome.Retries++
		r.o.metrics.recordFailure(ctx, cat)
		action := s.policy.Recommend(cat, r.outcome.Retries)
		r.log.Warn(
			"Agent attempt failed",
			"attempt", r.outcome.Attempts,
			"category", cat,
			"action", action.Kind,
			"error", core.RedactError(err),
		)
		switch action.Kind {
		case ActionRetry:
			if err := r.transition(ctx, EventRetry); err != nil {
				return err
			}
			if action.Notice != "" {
				r.out.append(action.Notice)
				if err := r.processor.send(streaming.Chunk{Text: r.out.String()}); err != nil {
					return r.fail(ctx, err)
				}
			}
			if err := r.o.sleep(ctx, action.Delay); err != nil {
				return r.fail(ctx, err)
			}
			// Only the rate limited attempt runs on the trimmed history.
			messages = history
			if action.TrimHistory && len(history) > 0 {
				messages = history[len(history)-1:]
			}
			if err := r.transition(ctx, EventResume); err != nil {
				return err
			}
		case ActionTerminate:
			r.out.append(action.Message)
			if err := r.transition(ctx, EventAbort); err != nil {
				return err
			}
			return r.finalEmit()
		default:
			sentinel := ErrUnclassified
			if cat != CategoryUnclassified {
				sentinel = ErrRetriesExhausted
			}
			return r.fail(ctx, fmt.Errorf("%w: %w", sentinel, err))
		}
	}
}

// attempt runs one engine start to the end of its stream.
func (r *run) attempt(ctx context.Context, messages []llmadapter.Message) (Termination, error) {
	attemptCtx, cancel := r.attemptContext(ctx)
	defer cancel()
	r.outcome.Attempts++
	input := r.req.Input
	input.Messages = messages
	if input.MaxTurns <= 0 {
		input.MaxTurns = r.o.settings.maxTurns
	}
	r.log.Debug("Starting agent attempt", "attempt", r.outcome.Attempts, "messages", len(messages))
	stream, err := r.o.engine.Start(attemptCtx, input)
	if err != nil {
		return r.supervised(ctx, attemptCtx, err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			r.log.Debug("Failed to close event stream", "error", cerr)
		}
	}()
	term, err := r.processor.Process(attemptCtx, stream)
	if err != nil {
		return r.supervised(ctx, attemptCtx, err)
	}
	return term, nil
}

// attemptContext applies the supervisory deadline when it is enabled.
func (r *run) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	s := r.o.settings
	if s.superviseGrace <= 0 {
		return context.WithCancel(ctx)
	}
	remaining := s.hardTimeout + s.superviseGrace - r.state.Elapsed()
	return context.WithTimeout(ctx, max(remaining, 0))
}

// supervised converts a failure caused by the supervisory deadline into a
// timeout termination.
func (r *run) supervised(ctx, attemptCtx context.Context, err error) (Termination, error) {
	if r.o.settings.superviseGrace > 0 && ctx.Err() == nil &&
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		r.log.Warn("Supervisory deadline cancelled a hung attempt", "elapsed", r.state.Elapsed())
		r.out.append(timedOutMessage(r.state.Elapsed()))
		return TerminationTimedOut, nil
	}
	return TerminationEnd, err
}

// interrupted reports whether err means the caller went away.
func (r *run) interrupted(ctx context.Context, err error) (bool, error) {
	var emitErr *emitError
	if errors.As(err, &emitErr) || ctx.Err() != nil {
		r.log.Debug("Agent run interrupted by caller", "error", core.RedactError(err))
		return true, r.fail(ctx, err)
	}
	return false, nil
}

func (r *run) finish(ctx context.Context, term Termination) error {
	switch term {
	case TerminationHardKilled:
		if err := r.transition(ctx, EventHardKill); err != nil {
			return err
		}
	case TerminationTimedOut:
		if err := r.transition(ctx, EventTimeOut); err != nil {
			return err
		}
	default:
		if r.state.ToolCalls() == 0 && strings.TrimSpace(r.out.String()) != "" {
			r.log.Warn("Hallucination detected: text without tool calls", "chars", r.out.Len())
			r.out.append(HallucinationWarning)
			r.outcome.Hallucinated = true
		}
		if err := r.transition(ctx, EventComplete); err != nil {
			return err
		}
	}
	return r.finalEmit()
}

// finalEmit is the single terminal emission of a logical run.
func (r *run) finalEmit() error {
	if err := r.processor.send(streaming.Chunk{Text: r.out.String(), Ext: r.out.ext, Finished: true}); err != nil {
		return err
	}
	return nil
}

func (r *run) fail(ctx context.Context, err error) error {
	if tErr := r.transition(ctx, EventFail); tErr != nil {
		r.log.Error("Failed to record run failure", "error", tErr)
	}
	return err
}

// transition ignores cancellation so a cancelled run can still reach a terminal state.
func (r *run) transition(ctx context.Context, event string) error {
	if err := r.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		return core.NewError(err, ErrCodeStateMachine, map[string]any{
			"event": event,
			"state": r.machine.Current(),
		})
	}
	return nil
}
