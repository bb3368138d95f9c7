package openai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/stockcast/marketpulse/models"
)

// Client wraps the OpenAI API client
type Client struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = openai.GPT4o
	}
	return &Client{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: log.With().Str("component", "openai_client").Logger(),
	}
}

// Complete sends a prompt to OpenAI and returns the raw completion text
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug().Int("prompt_len", len(prompt)).Msg("Sending prompt to OpenAI")

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		},
	)

	if err != nil {
		c.logger.Error().Err(err).Msg("OpenAI API error")
		return "", fmt.Errorf("%w: %v", models.ErrModelInvocation, err)
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn().Msg("OpenAI returned empty choices")
		return "", fmt.Errorf("%w: empty choices", models.ErrModelInvocation)
	}

	return resp.Choices[0].Message.Content, nil
}
