package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ChatCompletionStream returns deltas as they arrive. The channel is closed
// at [DONE], EOF, the first error, or when ctx is done; cancelling ctx is how
// a caller stops reading early.
func (c *client) ChatCompletionStream(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		send := func(r StreamResult) bool {
			select {
			case <-ctx.Done():
				return false
			case results <- r:
				return true
			}
		}

		resp, err := c.post(ctx, req, true)
		if err != nil {
			c.logger.Error("llm stream connect failed",
				zap.String("model", req.Model),
				zap.Error(err),
			)
			send(StreamResult{Err: err})
			return
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		chunks := 0

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					send(StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)})
				}
				c.logger.Debug("llm stream ended", zap.Int("chunks", chunks), zap.Error(err))
				return
			}

			payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
			if !ok {
				// Ignore comments, blank separators and non-data SSE fields.
				continue
			}
			payload = bytes.TrimSpace(payload)
			if bytes.Equal(payload, []byte("[DONE]")) {
				c.logger.Debug("llm stream received [DONE]", zap.Int("chunks", chunks))
				return
			}

			var chunk providerStreamChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				send(StreamResult{Err: fmt.Errorf("llmclient: unmarshal stream chunk: %w", err)})
				return
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" && choice.FinishReason == "" {
					continue
				}
				chunks++
				if !send(StreamResult{Chunk: &StreamChunk{
					Index:        choice.Index,
					Delta:        choice.Delta.Content,
					FinishReason: choice.FinishReason,
				}}) {
					c.logger.Debug("llm stream cancelled", zap.Int("chunks", chunks), zap.Error(ctx.Err()))
					return
				}
			}
		}
	}()

	return results, nil
}
