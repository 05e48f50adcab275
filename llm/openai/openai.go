// Package openai implements llm.Provider and llm.Embedder against the
// OpenAI chat completions and embeddings APIs.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ragctl/ragctl/llm"
)

type Client struct {
	api openai.Client
}

func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{api: openai.NewClient(options...)}
}

func buildMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}

func (c *Client) Generate(ctx context.Context, model string, messages []llm.Message) (string, llm.Usage, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(messages),
	})
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.Usage{}, fmt.Errorf("openai chat completion returned no choices")
	}
	usage := llm.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return resp.Choices[0].Message.Content, usage, nil
}

func (c *Client) Stream(ctx context.Context, model string, messages []llm.Message) (<-chan llm.Chunk, error) {
	stream := c.api.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(messages),
	})

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				select {
				case out <- llm.Chunk{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llm.Chunk{Err: fmt.Errorf("openai stream failed: %w", err)}
			return
		}
		out <- llm.Chunk{
			Done: true,
			Usage: llm.Usage{
				InputTokens:  acc.Usage.PromptTokens,
				OutputTokens: acc.Usage.CompletionTokens,
			},
		}
	}()
	return out, nil
}

func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding returned no data")
	}
	embedding64 := resp.Data[0].Embedding
	vec := make([]float32, len(embedding64))
	for i, v := range embedding64 {
		vec[i] = float32(v)
	}
	return vec, nil
}

var (
	_ llm.Provider = (*Client)(nil)
	_ llm.Embedder = (*Client)(nil)
)
