// Package openai implements the llm.Provider interface over the OpenAI
// Chat Completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charter-works/charterd/pkg/llm"
)

const (
	// DefaultEndpoint is the Chat Completions endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultMaxTokens caps replies when the caller does not.
	DefaultMaxTokens = 4096

	providerName = "openai"
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey   string
	Model    string
	Endpoint string // Default: DefaultEndpoint
}

// Client calls the OpenAI Chat Completions API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new OpenAI client.
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete performs one Chat Completions call.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
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
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, llm.NewError(llm.ErrKindTransient, providerName,
			"failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, llm.NewError(llm.ErrKindTransient, providerName, "empty choices", nil)
	}

	return &llm.Response{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// classifyHTTPError maps OpenAI HTTP failures to router error kinds.
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
	case apiErr.Error.Code == "context_length_exceeded":
		return llm.NewError(llm.ErrKindContextLength, providerName, msg, nil)
	default:
		return llm.NewError(llm.ErrKindMalformedRequest, providerName, msg, nil)
	}
}
