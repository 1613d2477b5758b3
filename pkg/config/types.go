package config

import "time"

// InterviewConfig groups the knobs of the quality loop.
type InterviewConfig struct {
	// QualityThreshold is the minimum acceptable score (0..10). A response
	// scoring exactly the threshold is accepted.
	QualityThreshold int `yaml:"quality_threshold,omitempty"`

	// MaxAttempts per question before FORCE_ACCEPT.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// EvaluationTimeoutSeconds bounds one full response evaluation
	// (wall clock, across all LLM suspensions).
	EvaluationTimeoutSeconds int `yaml:"evaluation_timeout_seconds,omitempty"`

	// MaxResponseChars bounds a user response.
	MaxResponseChars int `yaml:"max_response_chars,omitempty"`

	// MaxQuestionChars bounds a generated question.
	MaxQuestionChars int `yaml:"max_question_chars,omitempty"`

	// MaxFollowUpChars bounds a generated follow-up.
	MaxFollowUpChars int `yaml:"max_followup_chars,omitempty"`

	// InjectionPatternsPath optionally points at a file with additional
	// prompt-injection patterns (one regex per line, # comments allowed).
	InjectionPatternsPath string `yaml:"injection_patterns_path,omitempty"`
}

// EvaluationTimeout returns the evaluation deadline as a duration.
func (c *InterviewConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.EvaluationTimeoutSeconds) * time.Second
}

// RouterConfig groups router-level behaviour shared by all tiers.
type RouterConfig struct {
	// DefaultTimeoutSeconds is the per-attempt LLM timeout when the
	// provider config carries no override.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds,omitempty"`

	// CostOptimized toggles cost-aware provider ordering. When off, the
	// configured fallback chains are used verbatim.
	CostOptimized bool `yaml:"cost_optimized,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`
}

// DefaultTimeout returns the per-attempt timeout as a duration.
func (c *RouterConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// CharterYAMLConfig represents the complete charterd.yaml file structure.
type CharterYAMLConfig struct {
	Interview *InterviewConfig `yaml:"interview"`
	Router    *RouterConfig    `yaml:"router"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file
// structure: the provider catalogue plus the per-tier fallback chains.
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
	Tiers        map[Tier][]string             `yaml:"tiers"`
}

// Config is the immutable configuration snapshot passed in at
// construction. There are no ambient singletons; reload is via restart.
type Config struct {
	Interview InterviewConfig
	Router    RouterConfig

	LLMProviderRegistry *LLMProviderRegistry

	// Tiers maps each tier to its ordered fallback chain of provider names.
	Tiers map[Tier][]string
}

// Chain returns the fallback chain for a tier.
func (c *Config) Chain(tier Tier) ([]string, error) {
	chain, ok := c.Tiers[tier]
	if !ok || len(chain) == 0 {
		return nil, NewValidationError("tier", string(tier), "", ErrTierNotConfigured)
	}
	return chain, nil
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	LLMProviders int
	Tiers        int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	return Stats{
		LLMProviders: c.LLMProviderRegistry.Len(),
		Tiers:        len(c.Tiers),
	}
}
