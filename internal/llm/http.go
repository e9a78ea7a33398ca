package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize = 512 * 1024      // 512KB per message content
	maxErrorBody   = 64 * 1024
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llmclient: upstream %d: %s", e.StatusCode, e.Message)
}

// post validates and encodes req, sends it (with retries if configured) and
// returns the response only when the status is 2xx. The caller closes the body.
func (c *client) post(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}

	body, err := json.Marshal(req.toProvider(stream))
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(body) > maxRequestSize {
		return nil, fmt.Errorf("llmclient: request too large (%d bytes, max %d)", len(body), maxRequestSize)
	}

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, body, doOnce)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeStatusError(resp)
	}
	return resp, nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var perr providerErrorResponse
	if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
		kind := perr.Error.Type
		if kind == "" {
			kind = perr.Error.Status
		}
		return &StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s (%s)", perr.Error.Message, kind),
		}
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: truncate(string(raw), 200)}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
