package server

import (
	"context"
	"time"

	"github.com/comfyflow/agentmode/engine/infra/monitoring"
	"github.com/comfyflow/agentmode/engine/infra/server/middleware/ratelimit"
	"github.com/comfyflow/agentmode/engine/infra/server/routes"
	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
)

type routerOptions struct {
	heartbeat time.Duration
	rateLimit *ratelimit.Config
}

// RouterOption adjusts router construction.
type RouterOption func(*routerOptions)

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) RouterOption {
	return func(o *routerOptions) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithRateLimit throttles requests per client IP. A nil config disables it.
func WithRateLimit(cfg *ratelimit.Config) RouterOption {
	return func(o *routerOptions) {
		o.rateLimit = cfg
	}
}

func convertRateLimitConfig(cfg *config.Config) *ratelimit.Config {
	if cfg == nil || cfg.RateLimit.Limit <= 0 {
		return nil
	}
	return &ratelimit.Config{
		Limit:         cfg.RateLimit.Limit,
		Period:        cfg.RateLimit.Period,
		Prefix:        cfg.RateLimit.Prefix,
		ExcludedPaths: []string{routes.Health(), cfg.Monitoring.Path},
	}
}

// NewRouter builds the HTTP routes. mon may be nil.
func NewRouter(ctx context.Context, agent AgentStreamer, mon *monitoring.Service, opts ...RouterOption) *gin.Engine {
	o := &routerOptions{heartbeat: defaultHeartbeatEvery}
	for _, opt := range opts {
		opt(o)
	}
	log := logger.FromContext(ctx)
	r := gin.New()
	r.Use(gin.Recovery())
	if o.rateLimit != nil {
		var meter metric.Meter
		if mon != nil && mon.IsInitialized() {
			meter = mon.Meter()
		}
		manager, err := ratelimit.NewManager(o.rateLimit, meter)
		if err != nil {
			log.Error("Failed to initialize rate limiting", "error", err)
		} else {
			r.Use(manager.Middleware())
			log.Info("Rate limiter initialized", "limit", o.rateLimit.Limit, "period", o.rateLimit.Period)
		}
	}
	if mon != nil && mon.IsInitialized() {
		r.Use(mon.GinMiddleware())
		r.GET(mon.Path(), gin.WrapH(mon.ExporterHandler()))
	}
	r.Use(LoggerMiddleware(log))
	r.GET(routes.Health(), healthHandler(mon))
	h := &streamHandler{agent: agent, heartbeat: o.heartbeat}
	r.POST(routes.AgentModeStream(), h.handle)
	return r
}
