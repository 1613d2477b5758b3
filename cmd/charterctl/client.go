package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiError mirrors the server's error envelope.
type apiError struct {
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// client is a thin wrapper over the charterd HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: base,
		// Long timeout: the prompt poll can legitimately sit behind a slow
		// LLM call.
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

// do performs one JSON round trip. A non-2xx response decodes into apiError.
func (c *client) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.ErrorCode != "" {
			return &ae
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// raw fetches a path and returns the body verbatim (markdown export).
func (c *client) raw(path string) ([]byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.ErrorCode != "" {
			return nil, &ae
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
