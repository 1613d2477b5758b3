package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load charterd.yaml and llm-providers.yaml from configDir
//  2. Expand environment variables
//  3. Merge built-in defaults into unset fields
//  4. Build in-memory registries
//  5. Validate everything fail-fast
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"tiers", stats.Tiers)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	charterCfg, err := loadCharterYAML(filepath.Join(configDir, "charterd.yaml"))
	if err != nil {
		return nil, NewLoadError("charterd.yaml", err)
	}

	providersCfg, err := loadProvidersYAML(filepath.Join(configDir, "llm-providers.yaml"))
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	interview := defaultInterviewConfig()
	if charterCfg.Interview != nil {
		if err := mergo.Merge(charterCfg.Interview, interview); err != nil {
			return nil, fmt.Errorf("failed to merge interview defaults: %w", err)
		}
		interview = *charterCfg.Interview
	}

	router := defaultRouterConfig()
	if charterCfg.Router != nil {
		if err := mergo.Merge(charterCfg.Router, router); err != nil {
			return nil, fmt.Errorf("failed to merge router defaults: %w", err)
		}
		router = *charterCfg.Router
	}

	return &Config{
		Interview:           interview,
		Router:              router,
		LLMProviderRegistry: NewLLMProviderRegistry(providersCfg.LLMProviders),
		Tiers:               providersCfg.Tiers,
	}, nil
}

// loadCharterYAML reads charterd.yaml. A missing file is not an error:
// the built-in defaults are complete on their own.
func loadCharterYAML(path string) (*CharterYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("charterd.yaml not found, using built-in defaults", "path", path)
			return &CharterYAMLConfig{}, nil
		}
		return nil, err
	}

	var cfg CharterYAMLConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// loadProvidersYAML reads llm-providers.yaml. The file is required: the
// engine cannot run without at least one provider and one tier chain.
func loadProvidersYAML(path string) (*LLMProvidersYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg LLMProvidersYAMLConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
