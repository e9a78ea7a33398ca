package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned when the provider answered with no text.
var ErrEmptyCompletion = errors.New("llmclient: empty completion")

// Completer sends a single-turn prompt and returns the raw completion text.
type Completer struct {
	client    Client
	model     string
	maxTokens int
	stream    bool
}

type CompleterConfig struct {
	Model     string
	MaxTokens int  // default: 8, enough for a one-letter answer
	Stream    bool // read the answer as server-sent events
}

func NewCompleter(client Client, cfg CompleterConfig) *Completer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8
	}
	return &Completer{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		stream:    cfg.Stream,
	}
}

func (c *Completer) request(prompt string) *ChatRequest {
	return &ChatRequest{
		Model:     c.model,
		Messages:  []ChatMessage{{Role: RoleUser, Content: prompt}},
		MaxTokens: c.maxTokens,
	}
}

// Infer returns the full completion for prompt.
func (c *Completer) Infer(ctx context.Context, prompt string) (string, error) {
	return c.InferUntil(ctx, prompt, nil)
}

// InferUntil is Infer that, when streaming is enabled, stops reading as soon
// as done reports true for the text received so far.
func (c *Completer) InferUntil(ctx context.Context, prompt string, done func(string) bool) (string, error) {
	if !c.stream {
		resp, err := c.client.ChatCompletion(ctx, c.request(prompt))
		if err != nil {
			return "", err
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := c.client.ChatCompletionStream(ctx, c.request(prompt))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for res := range results {
		if res.Err != nil {
			return "", res.Err
		}
		if res.Chunk == nil || res.Chunk.Index != 0 {
			continue
		}
		sb.WriteString(res.Chunk.Delta)
		if done != nil && done(sb.String()) {
			break
		}
	}

	if err := ctx.Err(); err != nil && sb.Len() == 0 {
		return "", err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}
