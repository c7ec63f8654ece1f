package providers

import (
	"fmt"
	"net/http"

	"sinew/internal/config"
	"sinew/internal/llm"
	"sinew/internal/llm/anthropic"
	"sinew/internal/llm/google"
	openaillm "sinew/internal/llm/openai"
)

// Build constructs an llm.Provider based on LLM_PROVIDER.
// - anthropic (default): uses the Anthropic Messages API
// - openai: uses the OpenAI client
// - local: uses the OpenAI client against a self-hosted completions endpoint
// - google: uses the Gemini client
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	case "openai":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLMClient.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "google":
		return google.New(cfg.LLMClient.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider)
	}
}
