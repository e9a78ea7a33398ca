package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := (&Config{BaseURL: "https://example.test/v1beta/openai/", ChatPath: "chat/completions"}).WithDefaults()
	if cfg.BaseURL != "https://example.test/v1beta/openai" {
		t.Fatalf("unexpected base url: %s", cfg.BaseURL)
	}
	if cfg.ChatPath != "/chat/completions" {
		t.Fatalf("unexpected chat path: %s", cfg.ChatPath)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.UpstreamTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: %v / %v", cfg.ConnectTimeout, cfg.UpstreamTimeout)
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("retries must default to zero, got %d", cfg.MaxRetries)
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		resp := providerChatResponse{
			ID:      "chatcmpl-1",
			Created: time.Unix(1_700_000_000, 0).Unix(),
			Model:   "gemini-2.0-flash",
			Choices: []providerChatChoice{
				{
					Index:        0,
					Message:      ChatMessage{Role: RoleAssistant, Content: "B"},
					FinishReason: "stop",
				},
			},
			Usage: &providerUsage{PromptTokens: 30, CompletionTokens: 1, TotalTokens: 31},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	req := &ChatRequest{
		Model:     "gemini-2.0-flash",
		Messages:  []ChatMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 8,
	}

	resp, err := client.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Stream {
		t.Fatalf("non-stream request should not set stream=true")
	}
	if gotReq.Model != req.Model || gotReq.MaxTokens != 8 {
		t.Fatalf("unexpected request: %#v", gotReq)
	}
	if resp.Text() != "B" {
		t.Fatalf("unexpected response text: %q", resp.Text())
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 31 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
}

func TestChatCompletionValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChatCompletionStatusErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || !strings.Contains(statusErr.Message, "overloaded (UNAVAILABLE)") {
		t.Fatalf("unexpected status error: %#v", statusErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestChatCompletionRetriesWhenConfigured(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"C"}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "key",
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.ChatCompletion(context.Background(), &ChatRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Text() != "C" || calls.Load() != 2 {
		t.Fatalf("expected success on second attempt, got %q after %d calls", resp.Text(), calls.Load())
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("response writer does not support flushing")
			return
		}

		chunks := []string{
			`{"choices":[{"index":0,"delta":{"content":"The answer"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" is B"},"finish_reason":"stop"}]}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "stream-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.ChatCompletionStream(ctx, &ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletionStream: %v", err)
	}

	var deltas strings.Builder
	var finishReason string
	for res := range stream {
		if res.Err != nil {
			t.Fatalf("received stream error: %v", res.Err)
		}
		deltas.WriteString(res.Chunk.Delta)
		if res.Chunk.FinishReason != "" {
			finishReason = res.Chunk.FinishReason
		}
	}

	if !gotReq.Stream {
		t.Fatalf("stream requests must set stream=true")
	}
	if deltas.String() != "The answer is B" {
		t.Fatalf("unexpected stream deltas: %s", deltas.String())
	}
	if finishReason != "stop" {
		t.Fatalf("unexpected finish reason: %s", finishReason)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := range 20 {
		d := computeBackoff(100*time.Millisecond, attempt)
		if d < 0 || d >= maxRetryWait {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
