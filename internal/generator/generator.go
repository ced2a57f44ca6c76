package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/pkg/types"
)

// LLMConfig is an alias of config.LLMConfig.
type LLMConfig = config.LLMConfig

// CodeGenerator turns a topic into Manim code with two chained model calls:
// one for best practices, one for the code itself.
type CodeGenerator struct {
	chat                  Chatter
	httpClient            *http.Client
	bestPracticeMaxTokens int
	codeMaxTokens         int
	logger                *slog.Logger
}

// Option configures a CodeGenerator.
type Option func(*CodeGenerator)

// WithChatter replaces the Anthropic client.
func WithChatter(c Chatter) Option {
	return func(g *CodeGenerator) { g.chat = c }
}

// WithHTTPClient sets the HTTP client used by the default Anthropic client.
func WithHTTPClient(h *http.Client) Option {
	return func(g *CodeGenerator) { g.httpClient = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *CodeGenerator) { g.logger = l }
}

// New validates cfg once and returns a ready generator.
func New(cfg LLMConfig, opts ...Option) (*CodeGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: llm api key is not provided", types.ErrConfiguration)
	}
	g := &CodeGenerator{
		bestPracticeMaxTokens: cfg.BestPracticeMaxTokens,
		codeMaxTokens:         cfg.CodeMaxTokens,
		logger:                slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.bestPracticeMaxTokens <= 0 {
		g.bestPracticeMaxTokens = 1000
	}
	if g.codeMaxTokens <= 0 {
		g.codeMaxTokens = 2000
	}
	if g.chat == nil {
		client := NewClient(cfg, g.httpClient)
		client.Logger = g.logger
		g.chat = client
	}
	return g, nil
}

// Generate runs both stages in order and returns the generated code. Any
// failure aborts the run without a partial result.
func (g *CodeGenerator) Generate(ctx context.Context, topic string) (string, error) {
	practices, err := g.stage(ctx, "best_practices", BuildBestPracticesPrompt(topic), g.bestPracticeMaxTokens)
	if err != nil {
		return "", err
	}
	code, err := g.stage(ctx, "code", BuildCodePrompt(topic, practices), g.codeMaxTokens)
	if err != nil {
		return "", err
	}
	return code, nil
}

func (g *CodeGenerator) stage(ctx context.Context, name, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	out, err := g.chat.Chat(ctx, prompt, maxTokens)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("response contained no text")
	}
	if err != nil {
		g.logger.Error("generation stage failed", "stage", name, "error", err)
		return "", fmt.Errorf("%w: %s stage: %v", types.ErrGeneration, name, err)
	}
	g.logger.Info("generation stage done", "stage", name, "chars", len(out), "elapsed", time.Since(start))
	return out, nil
}
