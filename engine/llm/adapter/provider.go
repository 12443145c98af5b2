package llmadapter

import (
	"net/url"
	"slices"
	"strings"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGroq      Provider = "groq"
	ProviderLMStudio  Provider = "lmstudio"
	ProviderOllama    Provider = "ollama"
)

// DetectProvider infers the provider from the configured base URL.
func DetectProvider(baseURL string) Provider {
	raw := strings.ToLower(strings.TrimSpace(baseURL))
	if raw == "" {
		return ProviderOpenAI
	}
	host := raw
	port := ""
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Hostname()
		port = u.Port()
	}
	switch {
	case strings.Contains(host, "groq.com"):
		return ProviderGroq
	case strings.Contains(host, "anthropic.com"):
		return ProviderAnthropic
	case strings.Contains(raw, "lmstudio") || port == "1234":
		return ProviderLMStudio
	case strings.Contains(raw, "ollama") || port == "11434":
		return ProviderOllama
	default:
		return ProviderOpenAI
	}
}

// IsConstrained reports whether p is one of the known-limited providers.
func IsConstrained(p Provider, constrained []string) bool {
	return slices.ContainsFunc(constrained, func(c string) bool {
		return strings.EqualFold(strings.TrimSpace(c), string(p))
	})
}
