// Package factory builds provider adapters from configuration. It lives
// outside pkg/llm so the adapters can depend on the router's types without
// an import cycle.
package factory

import (
	"fmt"
	"os"

	"github.com/charter-works/charterd/pkg/config"
	"github.com/charter-works/charterd/pkg/llm"
	"github.com/charter-works/charterd/pkg/llm/anthropic"
	"github.com/charter-works/charterd/pkg/llm/ollama"
	"github.com/charter-works/charterd/pkg/llm/openai"
)

// BuildProviders instantiates one adapter per configured provider, keyed
// by configuration name.
func BuildProviders(cfg *config.Config) (map[string]llm.Provider, error) {
	providers := make(map[string]llm.Provider)
	for name, pc := range cfg.LLMProviderRegistry.GetAll() {
		provider, err := buildProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", name, err)
		}
		providers[name] = provider
	}
	return providers, nil
}

func buildProvider(pc *config.LLMProviderConfig) (llm.Provider, error) {
	switch pc.Type {
	case config.ProviderTypeAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:   os.Getenv(pc.APIKeyEnv),
			Model:    pc.Model,
			Endpoint: pc.BaseURL,
		}), nil
	case config.ProviderTypeOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:   os.Getenv(pc.APIKeyEnv),
			Model:    pc.Model,
			Endpoint: pc.BaseURL,
		}), nil
	case config.ProviderTypeOllama:
		return ollama.NewClient(ollama.Config{
			Model:    pc.Model,
			Endpoint: pc.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", pc.Type)
	}
}
