// Package anthropic implements the llm.Provider interface over the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charter-works/charterd/pkg/llm"
)

const (
	// DefaultEndpoint is the Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens caps replies when the caller does not.
	DefaultMaxTokens = 4096

	apiVersion   = "2023-06-01"
	providerName = "anthropic"
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string // Default: DefaultEndpoint
}

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new Anthropic client. Timeouts are carried by the
// request context, so the HTTP client sets none of its own.
func NewClient(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

// Name returns the vendor name.
func (c *Client) Name() string { return providerName }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one Messages API call.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	body := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
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
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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
		return nil, c.classifyHTTPError(resp, raw)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, llm.NewError(llm.ErrKindTransient, providerName,
			"failed to decode response", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Text:         text.String(),
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

// classifyHTTPError maps Anthropic HTTP failures to router error kinds.
func (c *Client) classifyHTTPError(resp *http.Response, raw []byte) *llm.Error {
	var apiErr errorResponse
	_ = json.Unmarshal(raw, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := llm.NewError(llm.ErrKindRateLimited, providerName, msg, nil)
		if hint := resp.Header.Get("retry-after"); hint != "" {
			if secs, err := strconv.Atoi(hint); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e
	case resp.StatusCode >= 500:
		return llm.NewError(llm.ErrKindTransient, providerName, msg, nil)
	case strings.Contains(strings.ToLower(msg), "context") ||
		strings.Contains(strings.ToLower(msg), "prompt is too long"):
		return llm.NewError(llm.ErrKindContextLength, providerName, msg, nil)
	default:
		return llm.NewError(llm.ErrKindMalformedRequest, providerName, msg, nil)
	}
}
