// Package anthropic implements llm.Provider against the Anthropic
// Messages API, with the retrying-call pattern used throughout the
// corpus for flaky upstream LLM calls.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ragctl/ragctl/llm"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	defaultMaxTok  = 4096
)

type Client struct {
	api        anthropic.Client
	maxRetries int
	backoff    time.Duration
}

func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		api:        anthropic.NewClient(options...),
		maxRetries: maxRetries,
		backoff:    initialBackoff,
	}
}

func splitSystem(messages []llm.Message) (string, []anthropic.MessageParam) {
	var system string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Text
		case llm.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return system, turns
}

func buildParams(model string, messages []llm.Message) anthropic.MessageNewParams {
	system, turns := splitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTok,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (c *Client) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	params := buildParams(model, messages)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", llm.Usage{}, ctx.Err()
			}
		}

		message, err := c.api.Messages.New(ctx, params)
		if err == nil {
			usage := llm.Usage{InputTokens: message.Usage.InputTokens, OutputTokens: message.Usage.OutputTokens}
			if len(message.Content) == 0 {
				return "", usage, fmt.Errorf("anthropic message returned no content blocks")
			}
			return message.Content[0].Text, usage, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", llm.Usage{}, ctx.Err()
		}
		if !isRetryable(err) {
			return "", llm.Usage{}, fmt.Errorf("anthropic message failed (non-retryable): %w", err)
		}
	}
	return "", llm.Usage{}, fmt.Errorf("anthropic message failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	params := buildParams(model, messages)
	stream := c.api.Messages.NewStreaming(ctx, params)

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- llm.Chunk{Err: fmt.Errorf("anthropic stream accumulate failed: %w", err)}
				return
			}

			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
					select {
					case out <- llm.Chunk{Text: textDelta.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llm.Chunk{Err: fmt.Errorf("anthropic stream failed: %w", err)}
			return
		}
		out <- llm.Chunk{
			Done: true,
			Usage: llm.Usage{
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			},
		}
	}()
	return out, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

var _ llm.Provider = (*Client)(nil)
