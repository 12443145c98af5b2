package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
)

// Config throttles requests per client IP.
type Config struct {
	Limit  int64
	Period time.Duration
	Prefix string
	// Requests whose path starts with one of these are never limited.
	ExcludedPaths []string
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		Limit:         60,
		Period:        time.Minute,
		Prefix:        "agentmode:ratelimit:",
		ExcludedPaths: []string{"/healthz", "/metrics"},
	}
}

func (c *Config) rate() limiter.Rate {
	return limiter.Rate{Period: c.Period, Limit: c.Limit}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Period <= 0 {
		return fmt.Errorf("rate limit period must be positive")
	}
	return nil
}

func (c *Config) excluded(path string) bool {
	for _, p := range c.ExcludedPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
