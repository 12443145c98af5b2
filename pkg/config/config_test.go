package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("Should load defaults when no sources are given", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 300*time.Second, cfg.Agent.HardTimeout)
		assert.Equal(t, 8, cfg.Agent.RepeatWindow)
		assert.Equal(t, 3, cfg.Agent.HardKillThreshold)
		assert.Equal(t, 1, cfg.Agent.MaxRetries)
		assert.Equal(t, 2000, cfg.Agent.ConstrainedTokenBudget)
		assert.Equal(t, []string{"groq", "lmstudio"}, cfg.LLM.ConstrainedProviders)
	})

	t.Run("Should let environment variables override YAML values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agentmode.yaml")
		yamlContent := "agent:\n  max_retries: 2\n  language: Deutsch\nllm:\n  model: llama-3\n"
		require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))
		t.Setenv("AGENT_MAX_RETRIES", "4")
		t.Setenv("LLM_API_KEY", "sk-secret")

		svc := NewService()
		cfg, err := svc.Load(t.Context(), NewDefaultProvider(), NewYAMLProvider(path), NewEnvProvider())
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Agent.MaxRetries)
		assert.Equal(t, "Deutsch", cfg.Agent.Language)
		assert.Equal(t, "llama-3", cfg.LLM.Model)
		assert.Equal(t, "sk-secret", cfg.LLM.APIKey.Value())
		assert.Equal(t, SourceEnv, svc.GetSource("agent.max_retries"))
		assert.Equal(t, SourceYAML, svc.GetSource("llm.model"))
		assert.Equal(t, SourceDefault, svc.GetSource("agent.max_turns"))
	})

	t.Run("Should parse duration and slice values from environment", func(t *testing.T) {
		t.Setenv("AGENT_HARD_TIMEOUT", "10m")
		t.Setenv("LLM_CONSTRAINED_PROVIDERS", "groq,together")
		cfg, err := NewService().Load(t.Context(), NewEnvProvider())
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, cfg.Agent.HardTimeout)
		assert.Equal(t, []string{"groq", "together"}, cfg.LLM.ConstrainedProviders)
	})

	t.Run("Should apply CLI flags over YAML", func(t *testing.T) {
		cfg, err := NewService().Load(t.Context(), NewCLIProvider(map[string]any{
			"port":    9090,
			"model":   "qwen",
			"unknown": true,
		}))
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "qwen", cfg.LLM.Model)
	})

	t.Run("Should let CLI flags override environment variables", func(t *testing.T) {
		t.Setenv("LLM_MODEL", "from-env")
		svc := NewService()
		cfg, err := svc.Load(t.Context(), NewEnvProvider(), NewCLIProvider(map[string]any{"model": "from-flag"}))
		require.NoError(t, err)
		assert.Equal(t, "from-flag", cfg.LLM.Model)
		assert.Equal(t, SourceCLI, svc.GetSource("llm.model"))
	})

	t.Run("Should ignore a missing YAML file", func(t *testing.T) {
		_, err := NewService().Load(t.Context(), NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")))
		require.NoError(t, err)
	})
}

func TestLoader_Validate(t *testing.T) {
	t.Run("Should reject a request timeout not below the hard timeout", func(t *testing.T) {
		t.Setenv("LLM_REQUEST_TIMEOUT", "300s")
		_, err := NewService().Load(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request_timeout")
	})

	t.Run("Should reject an unknown token counter", func(t *testing.T) {
		cfg := Default()
		cfg.Agent.TokenCounter = "bytes"
		require.Error(t, NewService().Validate(cfg))
	})

	t.Run("Should reject nil configuration", func(t *testing.T) {
		require.Error(t, NewService().Validate(nil))
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact value in fmt and JSON output", func(t *testing.T) {
		s := SensitiveString("gsk_abcdef")
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
		data, err := json.Marshal(LLMConfig{APIKey: s})
		require.NoError(t, err)
		assert.NotContains(t, string(data), "gsk_abcdef")
		assert.Equal(t, "gsk_abcdef", s.Value())
	})
}

func TestManager(t *testing.T) {
	t.Run("Should return defaults before load and loaded config after", func(t *testing.T) {
		m := NewManager(nil)
		assert.Equal(t, "ComfyUI-Agent", m.Get().Agent.Name)
		t.Setenv("AGENT_NAME", "Builder")
		_, err := m.Load(t.Context(), NewEnvProvider())
		require.NoError(t, err)
		assert.Equal(t, "Builder", m.Get().Agent.Name)
		require.NoError(t, m.Close(t.Context()))
	})

	t.Run("Should resolve configuration from context", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.Load(t.Context(), NewCLIProvider(map[string]any{"language": "Français"}))
		require.NoError(t, err)
		ctx := ContextWithManager(t.Context(), m)
		assert.Equal(t, "Français", FromContext(ctx).Agent.Language)
	})
}

func TestGenerateEnvMappings(t *testing.T) {
	t.Run("Should map env tags to nested config paths", func(t *testing.T) {
		assert.Equal(t, "AGENT_HARD_TIMEOUT", GetEnvVarForConfigPath("agent.hard_timeout"))
		assert.Equal(t, "MCP_API_KEY", GetEnvVarForConfigPath("mcp.api_key"))
		assert.Equal(t, "RATELIMIT_LIMIT", GetEnvVarForConfigPath("ratelimit.limit"))
		assert.Empty(t, GetEnvVarForConfigPath("agent.nope"))
	})
}
