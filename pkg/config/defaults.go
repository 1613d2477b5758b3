package config

// Built-in defaults applied when charterd.yaml leaves a knob unset.
const (
	DefaultQualityThreshold  = 7
	DefaultMaxAttempts       = 3
	DefaultEvaluationTimeout = 30 // seconds
	DefaultMaxResponseChars  = 10000
	DefaultMaxQuestionChars  = 500
	DefaultMaxFollowUpChars  = 2000

	DefaultLLMTimeoutSeconds = 30
	DefaultRetryMaxAttempts  = 3
	DefaultInitialBackoffMS  = 500
	DefaultBackoffFactor     = 2.0
	DefaultJitter            = 0.2
	DefaultMaxBackoffMS      = 8000
)

// defaultInterviewConfig returns the built-in interview settings.
func defaultInterviewConfig() InterviewConfig {
	return InterviewConfig{
		QualityThreshold:         DefaultQualityThreshold,
		MaxAttempts:              DefaultMaxAttempts,
		EvaluationTimeoutSeconds: DefaultEvaluationTimeout,
		MaxResponseChars:         DefaultMaxResponseChars,
		MaxQuestionChars:         DefaultMaxQuestionChars,
		MaxFollowUpChars:         DefaultMaxFollowUpChars,
	}
}

// defaultRouterConfig returns the built-in router settings.
func defaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultTimeoutSeconds: DefaultLLMTimeoutSeconds,
		Retry: RetryConfig{
			MaxAttempts:          DefaultRetryMaxAttempts,
			InitialBackoffMillis: DefaultInitialBackoffMS,
			BackoffFactor:        DefaultBackoffFactor,
			Jitter:               DefaultJitter,
			MaxBackoffMillis:     DefaultMaxBackoffMS,
		},
	}
}
