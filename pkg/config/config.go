package config

import (
	"context"
	"time"
)

// Config is the root configuration for the agent mode service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Agent      AgentConfig      `koanf:"agent"`
	LLM        LLMConfig        `koanf:"llm"`
	MCP        MCPConfig        `koanf:"mcp"`
	ComfyUI    ComfyUIConfig    `koanf:"comfyui"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Runtime    RuntimeConfig    `koanf:"runtime"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host        string        `koanf:"host"         env:"SERVER_HOST"         validate:"required"`
	Port        int           `koanf:"port"         env:"SERVER_PORT"         validate:"min=1,max=65535"`
	ReadTimeout time.Duration `koanf:"read_timeout" env:"SERVER_READ_TIMEOUT"`
}

// AgentConfig holds the run orchestrator limits.
type AgentConfig struct {
	Name                   string        `koanf:"name"                     env:"AGENT_NAME"                     validate:"required"`
	Language               string        `koanf:"language"                 env:"AGENT_LANGUAGE"`
	HardTimeout            time.Duration `koanf:"hard_timeout"             env:"AGENT_HARD_TIMEOUT"             validate:"min=1s"`
	SuperviseGrace         time.Duration `koanf:"supervise_grace"          env:"AGENT_SUPERVISE_GRACE"          validate:"min=0"`
	RepeatWindow           int           `koanf:"repeat_window"            env:"AGENT_REPEAT_WINDOW"            validate:"min=1"`
	HardKillThreshold      int           `koanf:"hard_kill_threshold"      env:"AGENT_HARD_KILL_THRESHOLD"      validate:"min=1"`
	MaxRetries             int           `koanf:"max_retries"              env:"AGENT_MAX_RETRIES"              validate:"min=0"`
	MaxTurns               int           `koanf:"max_turns"                env:"AGENT_MAX_TURNS"                validate:"min=1"`
	TokenBudget            int           `koanf:"token_budget"             env:"AGENT_TOKEN_BUDGET"             validate:"min=1"`
	ConstrainedTokenBudget int           `koanf:"constrained_token_budget" env:"AGENT_CONSTRAINED_TOKEN_BUDGET" validate:"min=1"`
	FailedGenerationDelay  time.Duration `koanf:"failed_generation_delay"  env:"AGENT_FAILED_GENERATION_DELAY"`
	RateLimitDelay         time.Duration `koanf:"rate_limit_delay"         env:"AGENT_RATE_LIMIT_DELAY"`
	TransientBackoffBase   time.Duration `koanf:"transient_backoff_base"   env:"AGENT_TRANSIENT_BACKOFF_BASE"`
	TransientBackoffMax    time.Duration `koanf:"transient_backoff_max"    env:"AGENT_TRANSIENT_BACKOFF_MAX"`
	TokenCounter           string        `koanf:"token_counter"            env:"AGENT_TOKEN_COUNTER"            validate:"oneof=ratio tiktoken"`
}

// LLMConfig describes the model provider the run engine talks to.
type LLMConfig struct {
	BaseURL              string          `koanf:"base_url"              env:"LLM_BASE_URL"`
	APIKey               SensitiveString `koanf:"api_key"               env:"LLM_API_KEY"               sensitive:"true"`
	Model                string          `koanf:"model"                 env:"LLM_MODEL"                 validate:"required"`
	RequestTimeout       time.Duration   `koanf:"request_timeout"       env:"LLM_REQUEST_TIMEOUT"       validate:"min=1s"`
	ConstrainedProviders []string        `koanf:"constrained_providers" env:"LLM_CONSTRAINED_PROVIDERS"`
}

// MCPConfig configures the remote tool-schema sources.
type MCPConfig struct {
	WorkflowURL    string          `koanf:"workflow_url"    env:"MCP_WORKFLOW_URL"`
	SearchURL      string          `koanf:"search_url"      env:"MCP_SEARCH_URL"`
	APIKey         SensitiveString `koanf:"api_key"         env:"MCP_API_KEY"         sensitive:"true"`
	Timeout        time.Duration   `koanf:"timeout"         env:"MCP_TIMEOUT"`
	SessionTimeout time.Duration   `koanf:"session_timeout" env:"MCP_SESSION_TIMEOUT"`
	ToolCacheTTL   time.Duration   `koanf:"tool_cache_ttl"  env:"MCP_TOOL_CACHE_TTL"`
}

// ComfyUIConfig points the local tools at a ComfyUI backend.
type ComfyUIConfig struct {
	BaseURL       string        `koanf:"base_url"        env:"COMFYUI_BASE_URL"`
	Timeout       time.Duration `koanf:"timeout"         env:"COMFYUI_TIMEOUT"`
	ObjectInfoTTL time.Duration `koanf:"object_info_ttl" env:"COMFYUI_OBJECT_INFO_TTL"`
}

// MonitoringConfig controls the Prometheus metrics endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"    validate:"startswith=/"`
}

// RateLimitConfig throttles stream requests per client IP. A zero limit disables it.
type RateLimitConfig struct {
	Limit  int64         `koanf:"limit"  env:"RATELIMIT_LIMIT"  validate:"min=0"`
	Period time.Duration `koanf:"period" env:"RATELIMIT_PERIOD"`
	Prefix string        `koanf:"prefix" env:"RATELIMIT_PREFIX"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	LogLevel  string `koanf:"log_level"  env:"LOG_LEVEL"  validate:"oneof=debug info warn error disabled"`
	LogJSON   bool   `koanf:"log_json"   env:"LOG_JSON"`
	LogSource bool   `koanf:"log_source" env:"LOG_SOURCE"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source is a provider of raw configuration data.
type Source interface {
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Metadata records where each configuration key came from.
type Metadata struct {
	Sources  map[string]SourceType
	LoadedAt time.Time
}

// Load loads configuration from defaults and environment variables.
func Load() (*Config, error) {
	return NewService().Load(context.Background(), NewDefaultProvider(), NewEnvProvider())
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5080,
			ReadTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			Name:                   "ComfyUI-Agent",
			Language:               "English",
			HardTimeout:            300 * time.Second,
			RepeatWindow:           8,
			HardKillThreshold:      3,
			MaxRetries:             1,
			MaxTurns:               25,
			TokenBudget:            6000,
			ConstrainedTokenBudget: 2000,
			FailedGenerationDelay:  time.Second,
			RateLimitDelay:         30 * time.Second,
			TransientBackoffBase:   time.Second,
			TransientBackoffMax:    10 * time.Second,
			TokenCounter:           "ratio",
		},
		LLM: LLMConfig{
			BaseURL:              "https://api.openai.com/v1",
			Model:                "gpt-4.1",
			RequestTimeout:       120 * time.Second,
			ConstrainedProviders: []string{"groq", "lmstudio"},
		},
		MCP: MCPConfig{
			Timeout:        120 * time.Second,
			SessionTimeout: 180 * time.Second,
			ToolCacheTTL:   10 * time.Minute,
		},
		ComfyUI: ComfyUIConfig{
			BaseURL:       "http://127.0.0.1:8188",
			Timeout:       30 * time.Second,
			ObjectInfoTTL: 5 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			Limit:  60,
			Period: time.Minute,
			Prefix: "agentmode:ratelimit:",
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}
