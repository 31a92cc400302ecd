// Package openai implements llm.Client on any OpenAI-compatible chat
// completion endpoint, including local servers such as Ollama and vLLM.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/pkg/logging"
)

// Client calls an OpenAI-compatible chat completion API.
type Client struct {
	api         openai.Client
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

// New creates a chat client from the configured endpoint and profiles.
func New(cfg config.Config, opts ...Option) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.LLMAPIKey),
	}
	if cfg.LLMBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.LLMBaseURL))
	}

	c := &Client{
		api:         openai.NewClient(reqOpts...),
		full:        cfg.LLMFull,
		small:       cfg.LLMSmall,
		temperature: cfg.LLMTemp,
		logger:      logging.WithComponent("llm.openai"),
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

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature:         param.NewOpt(c.temperature),
		MaxCompletionTokens: param.NewOpt(p.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: empty response")
	}

	c.logger.Debug("chat completion",
		"model", p.Model,
		"prompt_chars", len(prompt),
		"completion_chars", len(resp.Choices[0].Message.Content))

	return resp.Choices[0].Message.Content, nil
}
