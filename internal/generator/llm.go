package generator

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Chatter sends a single user prompt to a model and returns its text reply.
type Chatter interface {
	Chat(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Client is an Anthropic Messages API client.
type Client struct {
	Model       string
	Temperature float64
	Logger      *slog.Logger

	api anthropic.Client
}

// NewClient builds a Client from cfg. SDK-level retries are disabled; a failed
// call is reported to the caller as is.
func NewClient(cfg LLMConfig, httpClient *http.Client) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		api:         anthropic.NewClient(opts...),
	}
}

func (c *Client) Chat(ctx context.Context, prompt string, maxTokens int) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.Temperature > 0 {
		params.Temperature = anthropic.Float(c.Temperature)
	}
	if c.Logger != nil {
		c.Logger.Debug("llm request", "model", c.Model, "max_tokens", maxTokens, "prompt", prompt)
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	content := ExtractText(msg.Content)
	if c.Logger != nil {
		c.Logger.Debug("llm response", "stop_reason", msg.StopReason, "content", content)
	}
	return content, nil
}

// ExtractText joins the text blocks of a response in order, one per line.
// Tool calls, thinking and other non-text blocks are dropped.
func ExtractText(blocks []anthropic.ContentBlockUnion) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}
