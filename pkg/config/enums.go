package config

// Tier is a cost/capability band the router resolves to (provider, model)
// pairs via the configured fallback chain.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"
	TierLocal    Tier = "local"
)

// IsValid checks if the tier is a known value.
func (t Tier) IsValid() bool {
	switch t {
	case TierFast, TierBalanced, TierPowerful, TierLocal:
		return true
	default:
		return false
	}
}

// AllTiers lists every tier in configuration order.
var AllTiers = []Tier{TierFast, TierBalanced, TierPowerful, TierLocal}

// LLMProviderType defines supported LLM vendors.
type LLMProviderType string

const (
	// ProviderTypeAnthropic uses the Anthropic Messages API
	ProviderTypeAnthropic LLMProviderType = "anthropic"
	// ProviderTypeOpenAI uses the OpenAI Chat Completions API
	ProviderTypeOpenAI LLMProviderType = "openai"
	// ProviderTypeOllama uses a local Ollama server
	ProviderTypeOllama LLMProviderType = "ollama"
)

// IsValid checks if the provider type is supported.
func (t LLMProviderType) IsValid() bool {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeOllama:
		return true
	default:
		return false
	}
}
