package modelcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient reviews artifacts with a hosted Claude model
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	apiKey string
}

// NewAnthropicClient creates a client. baseURL is optional.
func NewAnthropicClient(apiKey, model, baseURL string) (*AnthropicClient, error) {
	if model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Checker owns retry policy through its circuit breaker
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{client: &client, model: model, apiKey: apiKey}, nil
}

// Name returns the model ID
func (c *AnthropicClient) Name() string { return c.model }

// Probe only checks that a key is configured; a round trip would be billed
func (c *AnthropicClient) Probe(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: ANTHROPIC_API_KEY not set", ErrUnavailable)
	}
	return ctx.Err()
}

// Generate sends prompt as a single user message
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{Text: text, Duration: time.Since(start)}, nil
}
