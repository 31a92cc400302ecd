// Package anthropic implements llm.Client on the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/pkg/logging"
)

// Client calls the Anthropic Messages API.
type Client struct {
	api         anthropic.Client
	full        config.LLMProfile
	small       config.LLMProfile
	temperature float64
	logger      *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a chat client. The API key comes from the configuration, or
// from ANTHROPIC_API_KEY when unset.
func New(cfg config.Config, opts ...Option) *Client {
	var reqOpts []option.RequestOption
	if cfg.LLMAPIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.LLMAPIKey))
	}

	c := &Client{
		api:         anthropic.NewClient(reqOpts...),
		full:        cfg.LLMFull,
		small:       cfg.LLMSmall,
		temperature: cfg.LLMTemp,
		logger:      logging.WithComponent("llm.anthropic"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call implements llm.Client.
func (c *Client) Call(ctx context.Context, prompt string, profile llm.Profile) (string, error) {
	p := c.full
	if profile == llm.ProfileSmall {
		p = c.small
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.Model),
		MaxTokens:   p.MaxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic message: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic message: empty response")
	}

	c.logger.Debug("message completion",
		"model", p.Model,
		"prompt_chars", len(prompt),
		"completion_chars", b.Len())

	return b.String(), nil
}
