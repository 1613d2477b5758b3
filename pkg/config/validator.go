package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear
// error messages.
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at the
// first error). Providers are validated before tiers so chain references
// point at already-checked entries.
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateTiers(); err != nil {
		return fmt.Errorf("tier validation failed: %w", err)
	}
	if err := v.validateInterview(); err != nil {
		return fmt.Errorf("interview validation failed: %w", err)
	}
	if err := v.validateRouter(); err != nil {
		return fmt.Errorf("router validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	if v.cfg.LLMProviderRegistry.Len() == 0 {
		return NewValidationError("llm_provider", "*", "", fmt.Errorf("at least one provider required"))
	}
	for name, p := range v.cfg.LLMProviderRegistry.GetAll() {
		if !p.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("%w: %s", ErrInvalidValue, p.Type))
		}
		if p.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		// Ollama runs locally and carries no API key.
		if p.Type != ProviderTypeOllama {
			if p.APIKeyEnv == "" {
				return NewValidationError("llm_provider", name, "api_key_env", ErrMissingRequiredField)
			}
			if os.Getenv(p.APIKeyEnv) == "" {
				return NewValidationError("llm_provider", name, "api_key_env",
					fmt.Errorf("environment variable '%s' is not set", p.APIKeyEnv))
			}
		}
		if p.TimeoutSeconds < 0 {
			return NewValidationError("llm_provider", name, "timeout_seconds", ErrInvalidValue)
		}
		if p.MaxConcurrent < 0 {
			return NewValidationError("llm_provider", name, "max_concurrent", ErrInvalidValue)
		}
	}
	return nil
}

func (v *ConfigValidator) validateTiers() error {
	for tier, chain := range v.cfg.Tiers {
		if !tier.IsValid() {
			return NewValidationError("tier", string(tier), "", fmt.Errorf("%w: unknown tier", ErrInvalidValue))
		}
		if len(chain) == 0 {
			return NewValidationError("tier", string(tier), "", ErrTierNotConfigured)
		}
		for _, providerName := range chain {
			if !v.cfg.LLMProviderRegistry.Has(providerName) {
				return NewValidationError("tier", string(tier), "",
					fmt.Errorf("%w: %s", ErrLLMProviderNotFound, providerName))
			}
		}
	}
	// Every tier the engine uses must be present.
	for _, tier := range AllTiers {
		if tier == TierLocal {
			// Optional: only needed when a chain routes to a local model.
			continue
		}
		if _, ok := v.cfg.Tiers[tier]; !ok {
			return NewValidationError("tier", string(tier), "", ErrTierNotConfigured)
		}
	}
	return nil
}

func (v *ConfigValidator) validateInterview() error {
	iv := v.cfg.Interview
	if iv.QualityThreshold < 0 || iv.QualityThreshold > 10 {
		return NewValidationError("interview", "quality_threshold", "",
			fmt.Errorf("%w: must be within 0..10", ErrInvalidValue))
	}
	if iv.MaxAttempts < 1 {
		return NewValidationError("interview", "max_attempts", "",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if iv.EvaluationTimeoutSeconds < 1 {
		return NewValidationError("interview", "evaluation_timeout_seconds", "",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if iv.InjectionPatternsPath != "" {
		if _, err := os.Stat(iv.InjectionPatternsPath); err != nil {
			return NewValidationError("interview", "injection_patterns_path", "", err)
		}
	}
	return nil
}

func (v *ConfigValidator) validateRouter() error {
	r := v.cfg.Router
	if r.DefaultTimeoutSeconds < 1 {
		return NewValidationError("router", "default_timeout_seconds", "",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.Retry.MaxAttempts < 1 {
		return NewValidationError("router", "retry.max_attempts", "",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.Retry.BackoffFactor < 1 {
		return NewValidationError("router", "retry.backoff_factor", "",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.Retry.Jitter < 0 || r.Retry.Jitter > 1 {
		return NewValidationError("router", "retry.jitter", "",
			fmt.Errorf("%w: must be within 0..1", ErrInvalidValue))
	}
	return nil
}
