package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	ErrRateLimitedCode = "RATE_LIMITED"

	cleanUpInterval = time.Minute
)

// Manager owns the in-memory limiter store and builds the gin middleware.
type Manager struct {
	cfg     *Config
	limiter *limiter.Limiter
	blocked metric.Int64Counter
}

// NewManager validates cfg and creates the limiter. meter may be nil.
func NewManager(cfg *Config, meter metric.Meter) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("rate limit config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          cfg.Prefix,
		CleanUpInterval: cleanUpInterval,
	})
	m := &Manager{cfg: cfg, limiter: limiter.New(store, cfg.rate())}
	if meter != nil {
		counter, err := meter.Int64Counter(
			"agentmode_rate_limit_blocks_total",
			metric.WithDescription("Total number of requests blocked by rate limiting"),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
		}
		m.blocked = counter
	}
	return m, nil
}

func (m *Manager) Middleware() gin.HandlerFunc {
	limit := mgin.NewMiddleware(
		m.limiter,
		mgin.WithKeyGetter(func(c *gin.Context) string { return c.ClientIP() }),
		mgin.WithLimitReachedHandler(m.onLimitReached),
		mgin.WithErrorHandler(m.onError),
	)
	return func(c *gin.Context) {
		if m.cfg.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}
		limit(c)
	}
}

func (m *Manager) onLimitReached(c *gin.Context) {
	if m.blocked != nil {
		m.blocked.Add(c.Request.Context(), 1, metric.WithAttributes(attribute.String("route", c.FullPath())))
	}
	logger.FromContext(c.Request.Context()).Warn("Rate limit exceeded", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
		"code":    ErrRateLimitedCode,
		"message": "rate limit exceeded, retry later",
	}})
}

// onError lets the request through when the store fails.
func (m *Manager) onError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("Rate limiter store failed", "error", err)
	c.Next()
}
