package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/charter-works/charterd/pkg/config"
)

// CompletionRequest is the router's public input: a prompt plus a tier.
// The router resolves the tier to its fallback chain and walks it until a
// pair answers or the chain is exhausted.
type CompletionRequest struct {
	Tier        config.Tier
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// Timeout overrides the per-attempt timeout for this call. Zero means
	// the provider's configured timeout, falling back to the router default.
	Timeout time.Duration
}

// Completion is the router's public output.
type Completion struct {
	Text         string `json:"text"`
	ModelUsed    string `json:"model_used"`
	ProviderUsed string `json:"provider_used"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LatencyMS    int64  `json:"latency_ms"`
}

// Router walks tier fallback chains with per-pair retry, backoff, circuit
// breaking, and concurrency caps. It is a pure function of configuration
// plus input and holds no per-session state.
type Router struct {
	cfg       *config.Config
	providers map[string]Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	limits    map[string]chan struct{}
	recorder  UsageRecorder
}

// NewRouter creates a router over pre-built provider adapters keyed by
// their configuration name (see pkg/llm/factory).
func NewRouter(cfg *config.Config, providers map[string]Provider, recorder UsageRecorder) (*Router, error) {
	if recorder == nil {
		recorder = SlogUsageRecorder{}
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	limits := make(map[string]chan struct{}, len(providers))
	for name := range providers {
		pc, err := cfg.LLMProviderRegistry.Get(name)
		if err != nil {
			return nil, err
		}
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		if pc.MaxConcurrent > 0 {
			limits[name] = make(chan struct{}, pc.MaxConcurrent)
		}
	}

	return &Router{
		cfg:       cfg,
		providers: providers,
		breakers:  breakers,
		limits:    limits,
		recorder:  recorder,
	}, nil
}

// Complete resolves the tier's chain and returns the first successful
// completion. Returns ErrProviderExhausted when every pair fails, or the
// classified error immediately when a pair reports a malformed request
// (retrying elsewhere cannot fix the caller's input).
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	chain, err := r.cfg.Chain(req.Tier)
	if err != nil {
		return nil, err
	}
	chain = r.orderChain(req.Tier, chain)

	for _, name := range chain {
		provider, ok := r.providers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", config.ErrLLMProviderNotFound, name)
		}

		completion, perr := r.tryPair(ctx, req, name, provider)
		if perr == nil {
			return completion, nil
		}
		if perr.Kind == ErrKindMalformedRequest {
			return nil, perr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Provider pair exhausted, falling back",
			"tier", req.Tier, "provider", name, "kind", perr.Kind)
	}

	return nil, fmt.Errorf("%w: tier %s", ErrProviderExhausted, req.Tier)
}

// orderChain applies cost-optimization mode. When off, the configured
// chain is used verbatim.
func (r *Router) orderChain(tier config.Tier, chain []string) []string {
	if !r.cfg.Router.CostOptimized {
		return chain
	}

	rank := func(name string) int { return 0 }
	switch tier {
	case config.TierFast:
		rank = func(name string) int {
			pc, err := r.cfg.LLMProviderRegistry.Get(name)
			if err != nil || pc.CostRank == 0 {
				return int(^uint(0) >> 1) // unranked pairs sort last
			}
			return pc.CostRank
		}
	case config.TierPowerful:
		rank = func(name string) int {
			pc, err := r.cfg.LLMProviderRegistry.Get(name)
			if err != nil || pc.CapabilityRank == 0 {
				return int(^uint(0) >> 1)
			}
			return pc.CapabilityRank
		}
	default:
		return chain
	}

	ordered := make([]string, len(chain))
	copy(ordered, chain)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i]) < rank(ordered[j])
	})
	return ordered
}

// tryPair attempts one (provider, model) pair up to the configured retry
// budget with exponential backoff. The timeout applies per attempt, not
// cumulatively.
func (r *Router) tryPair(ctx context.Context, req CompletionRequest, name string, provider Provider) (*Completion, *Error) {
	retry := r.cfg.Router.Retry
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(retry.InitialBackoffMillis) * time.Millisecond
	bo.Multiplier = retry.BackoffFactor
	bo.RandomizationFactor = retry.Jitter
	bo.MaxInterval = time.Duration(retry.MaxBackoffMillis) * time.Millisecond
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr *Error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := r.attempt(ctx, req, name, provider)
		latency := time.Since(start)

		if err == nil {
			r.recorder.Record(UsageRecord{
				Tier:         req.Tier,
				Provider:     name,
				Model:        resp.Model,
				InputTokens:  resp.InputTokens,
				OutputTokens: resp.OutputTokens,
				LatencyMS:    latency.Milliseconds(),
				Outcome:      "success",
				Attempts:     attempt,
			})
			return &Completion{
				Text:         resp.Text,
				ModelUsed:    resp.Model,
				ProviderUsed: name,
				InputTokens:  resp.InputTokens,
				OutputTokens: resp.OutputTokens,
				LatencyMS:    latency.Milliseconds(),
			}, nil
		}

		lastErr = AsError(name, err)
		if !lastErr.Retryable() || attempt == retry.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		// A 429 backoff hint wins when it asks for more patience.
		if lastErr.Kind == ErrKindRateLimited && lastErr.RetryAfter > delay {
			delay = lastErr.RetryAfter
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.recordFailure(req.Tier, name, provider, lastErr, attempt)
			return nil, lastErr
		}
	}

	r.recordFailure(req.Tier, name, provider, lastErr, retry.MaxAttempts)
	return nil, lastErr
}

// attempt performs a single provider call under the breaker, the
// concurrency cap, and the per-attempt timeout.
func (r *Router) attempt(ctx context.Context, req CompletionRequest, name string, provider Provider) (*Response, error) {
	if sem, ok := r.limits[name]; ok {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout(req, name))
	defer cancel()

	result, err := r.breakers[name].Execute(func() (any, error) {
		return provider.Complete(attemptCtx, Request{
			System:      req.System,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewError(ErrKindTransient, name, "circuit breaker open", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(ErrKindTransient, name, "attempt timed out", err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (r *Router) attemptTimeout(req CompletionRequest, name string) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if pc, err := r.cfg.LLMProviderRegistry.Get(name); err == nil && pc.TimeoutSeconds > 0 {
		return time.Duration(pc.TimeoutSeconds) * time.Second
	}
	return r.cfg.Router.DefaultTimeout()
}

func (r *Router) recordFailure(tier config.Tier, name string, provider Provider, perr *Error, attempts int) {
	outcome := "error"
	if perr != nil {
		outcome = string(perr.Kind)
	}
	r.recorder.Record(UsageRecord{
		Tier:     tier,
		Provider: name,
		Model:    provider.Model(),
		Outcome:  outcome,
		Attempts: attempts,
	})
}
