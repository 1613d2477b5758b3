package config

import (
	"fmt"
	"sync"
)

// LLMProviderConfig defines one (vendor, model) pair the router may call.
type LLMProviderConfig struct {
	// Provider type (required)
	Type LLMProviderType `yaml:"type"`

	// Model name (required)
	Model string `yaml:"model"`

	// Environment variable name holding the API key. Not used for ollama.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Per-attempt timeout in seconds. Zero means the system default (30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// Maximum concurrent in-flight requests to this provider. Zero means
	// unlimited.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// CostRank orders providers from cheapest (1) upward; used by
	// cost-optimization mode for tier FAST.
	CostRank int `yaml:"cost_rank,omitempty"`

	// CapabilityRank orders providers from most capable (1) upward; used by
	// cost-optimization mode for tier POWERFUL.
	CapabilityRank int `yaml:"capability_rank,omitempty"`
}

// RetryConfig holds the router's per-pair retry schedule.
type RetryConfig struct {
	// MaxAttempts per (provider, model) pair before moving down the chain.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
	// InitialBackoffMillis is the base delay before the first retry.
	InitialBackoffMillis int `yaml:"initial_backoff_ms,omitempty"`
	// BackoffFactor multiplies the delay after each retry.
	BackoffFactor float64 `yaml:"backoff_factor,omitempty"`
	// Jitter is the randomization factor applied to each delay (0.2 = ±20%).
	Jitter float64 `yaml:"jitter,omitempty"`
	// MaxBackoffMillis caps the delay.
	MaxBackoffMillis int `yaml:"max_backoff_ms,omitempty"`
}

// LLMProviderRegistry stores LLM provider configurations in memory with
// thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*LLMProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &LLMProviderRegistry{providers: copied}
}

// Get retrieves an LLM provider configuration by name (thread-safe).
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all LLM provider configurations (thread-safe, returns copy).
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if an LLM provider exists in the registry (thread-safe).
func (r *LLMProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of LLM providers in the registry (thread-safe).
func (r *LLMProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
