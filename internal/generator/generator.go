// Package generator turns captured screen text into social post drafts.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/pbaille/tweetpipe/internal/domain"
)

var (
	// ErrInvalidProvider means the settings name no supported provider/model
	ErrInvalidProvider = errors.New("invalid model/provider")
	// ErrMissingAPIKey means a cloud provider was selected without a key
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrProvider means the provider could not be reached or refused the call
	ErrProvider = errors.New("provider request failed")
	// ErrMalformedOutput means the provider answered with something other than drafts
	ErrMalformedOutput = errors.New("malformed provider output")
)

// ChatModel is the slice of an eino chat model the generator needs
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// ModelFactory builds the chat model for the given settings
type ModelFactory func(ctx context.Context, s domain.Settings) (ChatModel, error)

// Generator produces drafts from OCR text chunks
type Generator struct {
	newModel ModelFactory
	newID    func() string
	logger   *slog.Logger
}

// New creates a Generator that builds models with factory
func New(factory ModelFactory, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		newModel: factory,
		newID:    func() string { return uuid.New().String() },
		logger:   logger,
	}
}

// Generate asks the configured provider for drafts about chunks.
// Input without any non-blank text yields no drafts and no provider call.
func (g *Generator) Generate(ctx context.Context, chunks []domain.Chunk, settings domain.Settings) ([]domain.Draft, error) {
	input := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) != "" {
			input = append(input, domain.Chunk{Text: c.Text})
		}
	}
	if len(input) == 0 {
		return []domain.Draft{}, nil
	}

	chat, err := g.newModel(ctx, settings)
	if err != nil {
		if errors.Is(err, ErrInvalidProvider) || errors.Is(err, ErrMissingAPIKey) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create %s model: %v", ErrProvider, settings.Provider, err)
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemInstruction),
		schema.UserMessage(buildPrompt(input, settings.Mood)),
	}

	g.logger.DebugContext(ctx, "generating drafts",
		"provider", settings.Provider, "model", settings.Model, "chunks", len(input))

	out, err := chat.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProvider, settings.Provider, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	tweets, err := parseResponse(out.Content)
	if err != nil {
		g.logger.WarnContext(ctx, "provider returned unusable output",
			"provider", settings.Provider, "model", settings.Model, "error", err)
		return nil, err
	}

	drafts := make([]domain.Draft, len(tweets))
	for i, tweet := range tweets {
		drafts[i] = domain.Draft{ID: g.newID(), Tweet: tweet}
	}
	return drafts, nil
}
