package orchestrator

import "time"

const (
	defaultHardTimeout           = 300 * time.Second
	defaultRepeatWindow          = 8
	defaultHardKillThreshold     = 3
	defaultMaxRetries            = 1
	defaultMaxTurns              = 25
	defaultTokenBudget           = 6000
	defaultFailedGenerationDelay = time.Second
	defaultRateLimitDelay        = 30 * time.Second
	defaultTransientBackoffBase  = time.Second
	defaultTransientBackoffMax   = 10 * time.Second
)

// Config bounds a logical run.
type Config struct {
	HardTimeout time.Duration
	// SuperviseGrace enables a deadline on each attempt at HardTimeout+SuperviseGrace.
	// Zero leaves the timeout purely cooperative.
	SuperviseGrace        time.Duration
	RepeatWindow          int
	HardKillThreshold     int
	MaxRetries            int
	MaxTurns              int
	FailedGenerationDelay time.Duration
	RateLimitDelay        time.Duration
	TransientBackoffBase  time.Duration
	TransientBackoffMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		HardTimeout:           defaultHardTimeout,
		RepeatWindow:          defaultRepeatWindow,
		HardKillThreshold:     defaultHardKillThreshold,
		MaxRetries:            defaultMaxRetries,
		MaxTurns:              defaultMaxTurns,
		FailedGenerationDelay: defaultFailedGenerationDelay,
		RateLimitDelay:        defaultRateLimitDelay,
		TransientBackoffBase:  defaultTransientBackoffBase,
		TransientBackoffMax:   defaultTransientBackoffMax,
	}
}

type settings struct {
	hardTimeout       time.Duration
	superviseGrace    time.Duration
	repeatWindow      int
	hardKillThreshold int
	maxTurns          int
	policy            RetryPolicy
}

func buildSettings(cfg Config) settings {
	s := settings{
		hardTimeout:       defaultDuration(cfg.HardTimeout, defaultHardTimeout),
		superviseGrace:    max(cfg.SuperviseGrace, 0),
		repeatWindow:      defaultInt(cfg.RepeatWindow, defaultRepeatWindow),
		hardKillThreshold: defaultInt(cfg.HardKillThreshold, defaultHardKillThreshold),
		maxTurns:          defaultInt(cfg.MaxTurns, defaultMaxTurns),
		policy: RetryPolicy{
			MaxRetries:            max(cfg.MaxRetries, 0),
			FailedGenerationDelay: max(cfg.FailedGenerationDelay, 0),
			RateLimitDelay:        max(cfg.RateLimitDelay, 0),
			TransientBackoffBase:  defaultDuration(cfg.TransientBackoffBase, defaultTransientBackoffBase),
			TransientBackoffMax:   defaultDuration(cfg.TransientBackoffMax, defaultTransientBackoffMax),
		},
	}
	return s
}

func defaultInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
