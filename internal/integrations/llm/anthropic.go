package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"contentguard/internal/httpx"
)

const anthropicMaxTokens = 1024

type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

func NewAnthropic(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) (*AnthropicClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	// Retries are owned by the caller.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpx.ExternalHTTPClient()),
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(reqOpts...),
		model:  model,
		logger: logger,
	}, nil
}

func (c *AnthropicClient) Provider() string { return "anthropic" }
func (c *AnthropicClient) Model() string    { return c.model }

func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			c.logger.Debug("anthropic response",
				"model", c.model,
				"response_chars", len(block.Text),
				"tokens_in", message.Usage.InputTokens,
				"tokens_out", message.Usage.OutputTokens,
			)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic: %w (stop_reason=%q)", ErrEmptyResponse, message.StopReason)
}
