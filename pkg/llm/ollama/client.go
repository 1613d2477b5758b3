// Package ollama implements the llm.Provider interface over a local
// Ollama server (the LOCAL tier).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/charter-works/charterd/pkg/llm"
)

const (
	// DefaultEndpoint is the local Ollama chat endpoint.
	DefaultEndpoint = "http://localhost:11434/api/chat"

	providerName = "ollama"
)

// Config holds configuration for the Ollama client.
type Config struct {
	Model    string
	Endpoint string // Default: DefaultEndpoint
}

// Client calls a local Ollama server.
type Client struct {
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		model:      cfg.Model,
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

// Name returns the vendor name.
func (c *Client) Name() string { return providerName }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	// Token counts; older servers omit them.
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete performs one non-streaming chat call.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, llm.NewError(llm.ErrKindMalformedRequest, providerName,
			"failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewError(llm.ErrKindMalformedRequest, providerName,
			"failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewError(llm.ErrKindTransient, providerName, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.ErrKindTransient, providerName, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := llm.ErrKindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = llm.ErrKindMalformedRequest
		}
		return nil, llm.NewError(kind, providerName,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, llm.NewError(llm.ErrKindTransient, providerName,
			"failed to decode response", err)
	}

	// Local models may not report usage; estimate so usage records stay
	// populated.
	inputTokens := parsed.PromptEvalCount
	if inputTokens == 0 {
		inputTokens = llm.EstimateTokens(req.System + req.Prompt)
	}
	outputTokens := parsed.EvalCount
	if outputTokens == 0 {
		outputTokens = llm.EstimateTokens(parsed.Message.Content)
	}

	return &llm.Response{
		Text:         parsed.Message.Content,
		Model:        parsed.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}
