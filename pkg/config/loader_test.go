package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProvidersYAML = `
llm_providers:
  local-llama:
    type: ollama
    model: llama3.1:8b
    base_url: "http://localhost:11434/api/chat"
tiers:
  fast:
    - local-llama
  balanced:
    - local-llama
  powerful:
    - local-llama
`

func writeConfigDir(t *testing.T, charterYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	if charterYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "charterd.yaml"), []byte(charterYAML), 0o644))
	}
	if providersYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	}
	return dir
}

func TestInitialize_DefaultsWithoutCharterYAML(t *testing.T) {
	dir := writeConfigDir(t, "", testProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultQualityThreshold, cfg.Interview.QualityThreshold)
	assert.Equal(t, DefaultMaxAttempts, cfg.Interview.MaxAttempts)
	assert.Equal(t, DefaultEvaluationTimeout, cfg.Interview.EvaluationTimeoutSeconds)
	assert.Equal(t, DefaultMaxResponseChars, cfg.Interview.MaxResponseChars)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Router.Retry.MaxAttempts)
	assert.Equal(t, DefaultInitialBackoffMS, cfg.Router.Retry.InitialBackoffMillis)
	assert.Equal(t, 1, cfg.LLMProviderRegistry.Len())
}

func TestInitialize_OverridesMergeOverDefaults(t *testing.T) {
	charterYAML := `
interview:
  quality_threshold: 8
  max_attempts: 2
router:
  cost_optimized: true
  retry:
    max_attempts: 5
`
	dir := writeConfigDir(t, charterYAML, testProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Overridden fields take the file value.
	assert.Equal(t, 8, cfg.Interview.QualityThreshold)
	assert.Equal(t, 2, cfg.Interview.MaxAttempts)
	assert.True(t, cfg.Router.CostOptimized)
	assert.Equal(t, 5, cfg.Router.Retry.MaxAttempts)

	// Untouched fields keep the built-in defaults.
	assert.Equal(t, DefaultEvaluationTimeout, cfg.Interview.EvaluationTimeoutSeconds)
	assert.Equal(t, DefaultMaxFollowUpChars, cfg.Interview.MaxFollowUpChars)
	assert.Equal(t, DefaultInitialBackoffMS, cfg.Router.Retry.InitialBackoffMillis)
	assert.InDelta(t, DefaultBackoffFactor, cfg.Router.Retry.BackoffFactor, 1e-9)
}

func TestInitialize_MissingProvidersFile(t *testing.T) {
	dir := writeConfigDir(t, "", "")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidProvidersYAML(t *testing.T) {
	dir := writeConfigDir(t, "", "llm_providers: [not: a: map\n")

	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_MissingAPIKeyEnvFailsValidation(t *testing.T) {
	providersYAML := `
llm_providers:
  cloud:
    type: anthropic
    model: claude-sonnet-4-0
    api_key_env: CHARTERD_TEST_UNSET_KEY
tiers:
  fast: [cloud]
  balanced: [cloud]
  powerful: [cloud]
`
	dir := writeConfigDir(t, "", providersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "CHARTERD_TEST_UNSET_KEY")
}

func TestInitialize_APIKeyPresent(t *testing.T) {
	t.Setenv("CHARTERD_TEST_API_KEY", "sk-test")

	providersYAML := `
llm_providers:
  cloud:
    type: openai
    model: gpt-4o
    api_key_env: CHARTERD_TEST_API_KEY
tiers:
  fast: [cloud]
  balanced: [cloud]
  powerful: [cloud]
`
	dir := writeConfigDir(t, "", providersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	pc, err := cfg.LLMProviderRegistry.Get("cloud")
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeOpenAI, pc.Type)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CHARTERD_TEST_HOST", "ollama.internal")

	t.Run("expands template variables", func(t *testing.T) {
		out := ExpandEnv([]byte(`base_url: "http://{{.CHARTERD_TEST_HOST}}:11434"`))
		assert.Equal(t, `base_url: "http://ollama.internal:11434"`, string(out))
	})

	t.Run("missing variable expands to empty", func(t *testing.T) {
		out := ExpandEnv([]byte(`key: "{{.CHARTERD_TEST_NOPE}}"`))
		assert.Equal(t, `key: ""`, string(out))
	})

	t.Run("dollar signs pass through untouched", func(t *testing.T) {
		in := []byte(`pattern: "^\\$ignore (previous|prior)$"`)
		assert.Equal(t, in, ExpandEnv(in))
	})
}

func TestConfig_Chain(t *testing.T) {
	cfg := &Config{Tiers: map[Tier][]string{TierFast: {"a", "b"}}}

	chain, err := cfg.Chain(TierFast)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chain)

	_, err = cfg.Chain(TierPowerful)
	assert.ErrorIs(t, err, ErrTierNotConfigured)
}
