package agentmode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"dario.cat/mergo"
	"github.com/comfyflow/agentmode/engine/agentmode/prompts"
	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/engine/llm/orchestrator"
	"github.com/comfyflow/agentmode/engine/llm/tokens"
	"github.com/comfyflow/agentmode/engine/mcp"
	"github.com/comfyflow/agentmode/engine/streaming"
	"github.com/comfyflow/agentmode/engine/tool"
	"github.com/comfyflow/agentmode/engine/tool/comfy"
	"github.com/comfyflow/agentmode/engine/tool/workspace"
	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/comfyflow/agentmode/pkg/logger"
)

const (
	ErrCodeMissingSession = "MISSING_SESSION"
	ErrCodeMissingConfig  = "MISSING_CONFIG"

	workflowServerName = "workflow"
	searchServerName   = "search"
)

// ProviderSettings overrides the configured model provider for one request.
type ProviderSettings struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Request is one agent mode call. The last message is the current goal.
type Request struct {
	RunID     core.ID
	SessionID string
	Messages  []llmadapter.Message
	// Workflow is the canvas content when the request was made.
	Workflow json.RawMessage
	Provider *ProviderSettings
}

// EngineFactory builds the run engine for a resolved model configuration.
type EngineFactory func(cfg llmadapter.ModelConfig) (llmadapter.Engine, error)

// SourceOpener acquires the remote tool sources for a run.
type SourceOpener func(ctx context.Context, cache *mcp.ToolCache, servers ...mcp.ServerConfig) (*mcp.Set, error)

// Service runs agent mode requests and streams their output.
type Service struct {
	cfg         *config.Config
	renderer    *prompts.Renderer
	comfy       *comfy.Client
	toolCache   *mcp.ToolCache
	metrics     *orchestrator.Metrics
	newEngine   EngineFactory
	openSources SourceOpener
	runOpts     []orchestrator.Option
}

type Option func(*Service)

func WithEngineFactory(f EngineFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newEngine = f
		}
	}
}

func WithSourceOpener(f SourceOpener) Option {
	return func(s *Service) {
		if f != nil {
			s.openSources = f
		}
	}
}

func WithMetrics(m *orchestrator.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithComfyClient(c *comfy.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.comfy = c
		}
	}
}

// WithOrchestratorOptions appends options applied to every run orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *Service) {
		s.runOpts = append(s.runOpts, opts...)
	}
}

func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	renderer, err := prompts.NewRenderer()
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:         cfg,
		renderer:    renderer,
		newEngine:   defaultEngineFactory,
		openSources: mcp.Open,
	}
	if cfg != nil {
		s.toolCache = mcp.NewToolCache(cfg.MCP.ToolCacheTTL)
		s.comfy = comfy.NewClient(comfy.Config{
			BaseURL:       cfg.ComfyUI.BaseURL,
			Timeout:       cfg.ComfyUI.Timeout,
			ObjectInfoTTL: cfg.ComfyUI.ObjectInfoTTL,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func defaultEngineFactory(cfg llmadapter.ModelConfig) (llmadapter.Engine, error) {
	model, err := llmadapter.NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return llmadapter.NewLangchainEngine(model), nil
}

// Stream starts the request and returns its chunks. The channel is closed
// when the run ends. Failures never escape: they become one final chunk.
// Cancelling ctx stops the run without a final chunk.
func (s *Service) Stream(ctx context.Context, req Request) <-chan streaming.Chunk {
	out := make(chan streaming.Chunk)
	go func() {
		defer close(out)
		s.serve(ctx, req, func(c streaming.Chunk) error {
			select {
			case out <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return out
}

func (s *Service) serve(ctx context.Context, req Request, emit orchestrator.EmitFunc) {
	if req.RunID.IsZero() {
		id, err := core.NewID()
		if err != nil {
			s.fatal(ctx, emit, "", err)
			return
		}
		req.RunID = id
	}
	log := logger.FromContext(ctx).With("session_id", req.SessionID)
	ctx = logger.ContextWithLogger(ctx, log)
	var (
		text       string
		emitFailed bool
	)
	tracked := func(c streaming.Chunk) error {
		if err := emit(c); err != nil {
			emitFailed = true
			return err
		}
		text = c.Text
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Agent mode panicked", "panic", r, "stack", string(debug.Stack()))
			if !emitFailed && ctx.Err() == nil {
				s.fatal(ctx, emit, text, fmt.Errorf("internal error: %v", r))
			}
		}
	}()
	err := s.run(ctx, req, tracked)
	if err == nil || emitFailed || ctx.Err() != nil {
		return
	}
	log.Error("Agent mode failed", "run_id", req.RunID, "error", core.RedactError(err))
	s.fatal(ctx, emit, text, err)
}

func (s *Service) fatal(ctx context.Context, emit orchestrator.EmitFunc, text string, err error) {
	chunk := streaming.Chunk{Text: text + FatalMessage(err), Finished: true}
	if eerr := emit(chunk); eerr != nil {
		logger.FromContext(ctx).Debug("Failed to deliver fatal chunk", "error", eerr)
	}
}

func (s *Service) run(ctx context.Context, req Request, emit orchestrator.EmitFunc) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return core.NewError(errors.New("no session_id found in request context"), ErrCodeMissingSession, nil)
	}
	if s.cfg == nil {
		return core.NewError(errors.New("no config found in request context"), ErrCodeMissingConfig, nil)
	}
	modelCfg, err := s.modelConfig(req.Provider)
	if err != nil {
		return err
	}
	provider := modelCfg.Provider
	constrained := llmadapter.IsConstrained(provider, s.cfg.LLM.ConstrainedProviders)
	log := logger.FromContext(ctx)
	log.Info("Starting agent mode", "provider", provider, "model", modelCfg.Model, "constrained", constrained)

	ws := workspace.New(req.Workflow)
	ws.Reset()
	tools, err := s.selectTools(ws, constrained)
	if err != nil {
		return err
	}
	set, err := s.openSources(ctx, s.toolCache, s.servers(req.SessionID, constrained)...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			log.Warn("Failed to close MCP sources", "error", cerr)
		}
	}()
	instructions, err := s.renderer.Render(s.cfg.Agent.Name, s.cfg.Agent.Language, constrained)
	if err != nil {
		return err
	}
	engine, err := s.newEngine(modelCfg)
	if err != nil {
		return err
	}
	estimator, err := tokens.NewEstimator(s.cfg.Agent.TokenCounter, modelCfg.Model)
	if err != nil {
		log.Warn("Token counter unavailable, using ratio estimate", "error", err)
	}
	opts := append([]orchestrator.Option{
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithEstimator(estimator),
	}, s.runOpts...)
	orch := orchestrator.New(engine, s.orchestratorConfig(), opts...)
	budget := s.cfg.Agent.TokenBudget
	if constrained {
		budget = s.cfg.Agent.ConstrainedTokenBudget
	}
	outcome, err := orch.Run(ctx, orchestrator.Request{
		RunID:       req.RunID,
		Messages:    req.Messages,
		TokenBudget: budget,
		Input: llmadapter.RunInput{
			AgentName:    s.cfg.Agent.Name,
			Instructions: instructions,
			Tools:        tools,
			Sources:      set.Sources(),
			MaxTurns:     s.cfg.Agent.MaxTurns,
		},
	}, emit)
	log.Debug("Agent mode tool usage", "calls", ws.Calls(), "saves", ws.Saves(), "state", outcome.State)
	return err
}

// modelConfig resolves the provider settings. Non-empty request fields
// override the configured ones.
func (s *Service) modelConfig(p *ProviderSettings) (llmadapter.ModelConfig, error) {
	settings := ProviderSettings{
		BaseURL: s.cfg.LLM.BaseURL,
		APIKey:  s.cfg.LLM.APIKey.Value(),
		Model:   s.cfg.LLM.Model,
	}
	if p != nil {
		if err := mergo.Merge(&settings, *p, mergo.WithOverride); err != nil {
			return llmadapter.ModelConfig{}, fmt.Errorf("merge provider settings: %w", err)
		}
	}
	return llmadapter.ModelConfig{
		Provider: llmadapter.DetectProvider(settings.BaseURL),
		BaseURL:  settings.BaseURL,
		APIKey:   settings.APIKey,
		Model:    settings.Model,
		Timeout:  s.cfg.LLM.RequestTimeout,
	}, nil
}

func (s *Service) selectTools(ws *workspace.Workspace, constrained bool) ([]llmadapter.Tool, error) {
	registry, err := tool.NewRegistry(ws.Tools()...)
	if err != nil {
		return nil, err
	}
	for _, t := range comfy.NewToolset(s.comfy, ws).Tools() {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry.Select(tool.SetFor(constrained)...)
}

// servers lists the remote tool servers. Constrained providers get none.
func (s *Service) servers(sessionID string, constrained bool) []mcp.ServerConfig {
	if constrained {
		return nil
	}
	headers := mcp.SessionHeaders(sessionID, s.cfg.MCP.APIKey.Value())
	var out []mcp.ServerConfig
	for _, srv := range []struct{ name, url string }{
		{workflowServerName, s.cfg.MCP.WorkflowURL},
		{searchServerName, s.cfg.MCP.SearchURL},
	} {
		if strings.TrimSpace(srv.url) == "" {
			continue
		}
		out = append(out, mcp.ServerConfig{
			Name:           srv.name,
			URL:            srv.url,
			Headers:        headers,
			Timeout:        s.cfg.MCP.Timeout,
			SessionTimeout: s.cfg.MCP.SessionTimeout,
		})
	}
	return out
}

func (s *Service) orchestratorConfig() orchestrator.Config {
	a := s.cfg.Agent
	return orchestrator.Config{
		HardTimeout:           a.HardTimeout,
		SuperviseGrace:        a.SuperviseGrace,
		RepeatWindow:          a.RepeatWindow,
		HardKillThreshold:     a.HardKillThreshold,
		MaxRetries:            a.MaxRetries,
		MaxTurns:              a.MaxTurns,
		FailedGenerationDelay: a.FailedGenerationDelay,
		RateLimitDelay:        a.RateLimitDelay,
		TransientBackoffBase:  a.TransientBackoffBase,
		TransientBackoffMax:   a.TransientBackoffMax,
	}
}
