package llmadapter

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const ErrCodeProviderConfig = "PROVIDER_CONFIG"

// ModelConfig selects and configures the chat model behind the engine.
type ModelConfig struct {
	Provider Provider
	BaseURL  string
	APIKey   string
	Model    string
	// Timeout bounds each provider HTTP request.
	Timeout time.Duration
}

// NewModel creates a langchaingo model for the configured provider.
func NewModel(cfg ModelConfig) (llms.Model, error) {
	if cfg.Model == "" {
		return nil, core.NewError(fmt.Errorf("model is required"), ErrCodeProviderConfig, nil)
	}
	client := &http.Client{Timeout: cfg.Timeout}
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		model, err = createAnthropicLLM(cfg, client)
	case ProviderOllama:
		model, err = createOllamaLLM(cfg, client)
	case ProviderOpenAI, ProviderGroq, ProviderLMStudio, "":
		model, err = createOpenAICompatibleLLM(cfg, client)
	default:
		err = fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, core.NewError(err, ErrCodeProviderConfig, map[string]any{"provider": string(cfg.Provider)})
	}
	return model, nil
}

// createOpenAICompatibleLLM serves OpenAI and every OpenAI-compatible endpoint.
func createOpenAICompatibleLLM(p ModelConfig, client *http.Client) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(p.Model),
		openai.WithHTTPClient(client),
	}
	token := p.APIKey
	if token == "" {
		// local servers ignore the token but the client requires one
		token = "not-needed"
	}
	opts = append(opts, openai.WithToken(token))
	if p.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.BaseURL))
	}
	return openai.New(opts...)
}

func createAnthropicLLM(p ModelConfig, client *http.Client) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(p.Model),
		anthropic.WithHTTPClient(client),
	}
	if p.APIKey != "" {
		opts = append(opts, anthropic.WithToken(p.APIKey))
	}
	return anthropic.New(opts...)
}

func createOllamaLLM(p ModelConfig, client *http.Client) (llms.Model, error) {
	opts := []ollama.Option{
		ollama.WithModel(p.Model),
		ollama.WithHTTPClient(client),
	}
	if p.BaseURL != "" {
		// the native API lives beside the OpenAI-compatible /v1 prefix
		opts = append(opts, ollama.WithServerURL(strings.TrimSuffix(strings.TrimRight(p.BaseURL, "/"), "/v1")))
	}
	return ollama.New(opts...)
}
