package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/charter-works/charterd/pkg/config"
)

// UsageRecord describes one terminal router attempt. Records feed
// observability only; no component consumes them for correctness.
type UsageRecord struct {
	Tier         config.Tier `json:"tier"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	InputTokens  int         `json:"input_tokens"`
	OutputTokens int         `json:"output_tokens"`
	LatencyMS    int64       `json:"latency_ms"`
	// Outcome is "success", "exhausted", or the terminal error kind.
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
}

// UsageRecorder receives a record for every terminal attempt. Emission
// order across sessions is not guaranteed.
type UsageRecorder interface {
	Record(rec UsageRecord)
}

// SlogUsageRecorder emits usage records as structured log lines.
type SlogUsageRecorder struct{}

// Record logs the usage record.
func (SlogUsageRecorder) Record(rec UsageRecord) {
	slog.Info("llm usage",
		"tier", rec.Tier,
		"provider", rec.Provider,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"latency_ms", rec.LatencyMS,
		"outcome", rec.Outcome,
		"attempts", rec.Attempts)
}

var (
	tokenEncoding     *tiktoken.Tiktoken
	tokenEncodingOnce sync.Once
)

// EstimateTokens approximates the token count of text with the cl100k_base
// encoding. Used for providers (local models) that do not report usage.
// Falls back to a bytes/4 heuristic if the encoding cannot be loaded.
func EstimateTokens(text string) int {
	tokenEncodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Failed to load token encoding, falling back to heuristic", "error", err)
			return
		}
		tokenEncoding = enc
	})
	if tokenEncoding == nil {
		return len(text) / 4
	}
	return len(tokenEncoding.Encode(text, nil, nil))
}
