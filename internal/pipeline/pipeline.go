// Package pipeline runs one fetch, generate, persist, notify cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/pbaille/tweetpipe/internal/notify"
	"github.com/pbaille/tweetpipe/internal/ocr"
)

// Failure categories returned by Run
var (
	ErrSourceUnavailable = errors.New("capture service unavailable")
	ErrGeneration        = errors.New("draft generation failed")
	ErrStorage           = errors.New("storage failure")
)

// Caller-facing messages, one per outcome
const (
	MsgSuccess           = "Run successful, drafts were generated."
	MsgSourceUnavailable = "There was a problem connecting to the capture service."
	MsgGeneration        = "Error generating drafts."
	MsgInternal          = "Internal error."
)

// DefaultPageSize is how many OCR records one run reads
const DefaultPageSize = 5

// SettingsReader supplies the active generation settings
type SettingsReader interface {
	Read(ctx context.Context) (domain.Settings, error)
}

// Generator turns chunks into drafts
type Generator interface {
	Generate(ctx context.Context, chunks []domain.Chunk, settings domain.Settings) ([]domain.Draft, error)
}

// HistoryWriter persists one batch under a new key
type HistoryWriter interface {
	AppendBatch(ctx context.Context, drafts []domain.Draft) (string, error)
}

// Config wires a Runner
type Config struct {
	Source    ocr.Source
	Settings  SettingsReader
	Generator Generator
	History   HistoryWriter
	Notifier  notify.Notifier
	PageSize  int
	Logger    *slog.Logger
}

// Runner executes pipeline runs
type Runner struct {
	source    ocr.Source
	settings  SettingsReader
	generator Generator
	history   HistoryWriter
	notifier  notify.Notifier
	pageSize  int
	logger    *slog.Logger
}

// Result describes a successful run
type Result struct {
	Key    string         `json:"key"`
	Drafts []domain.Draft `json:"tweets"`
}

// New creates a Runner
func New(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("pipeline: OCR source is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("pipeline: settings store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("pipeline: history store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{Logger: cfg.Logger}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		source:    cfg.Source,
		settings:  cfg.Settings,
		generator: cfg.Generator,
		history:   cfg.History,
		notifier:  cfg.Notifier,
		pageSize:  cfg.PageSize,
		logger:    cfg.Logger,
	}, nil
}

// Run performs one run. Any failing step aborts the rest; the returned error
// wraps exactly one of the category errors.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	// Fetch
	page, err := r.source.Query(ctx, ocr.Query{PageIndex: 0, PageSize: r.pageSize})
	if err != nil {
		r.logger.ErrorContext(ctx, "fetch ocr", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	var chunks []domain.Chunk
	if page != nil {
		chunks = domain.ChunksFromOCR(page.Data)
	}
	if len(chunks) == 0 {
		r.logger.WarnContext(ctx, "fetch ocr: no usable text")
		return nil, fmt.Errorf("%w: no OCR text available", ErrSourceUnavailable)
	}
	r.logger.InfoContext(ctx, "fetched ocr", "chunks", len(chunks))

	// Generate
	settings, err := r.settings.Read(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "read settings", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	drafts, err := r.generator.Generate(ctx, chunks, settings)
	if err != nil {
		r.logger.ErrorContext(ctx, "generate drafts", "provider", settings.Provider, "model", settings.Model, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if len(drafts) == 0 {
		r.logger.WarnContext(ctx, "generate drafts: provider produced none", "provider", settings.Provider)
		return nil, fmt.Errorf("%w: no drafts produced", ErrGeneration)
	}

	// Persist
	key, err := r.history.AppendBatch(ctx, drafts)
	if err != nil {
		r.logger.ErrorContext(ctx, "append history", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	r.logger.InfoContext(ctx, "stored drafts", "key", key, "drafts", len(drafts))

	// Notify
	body := fmt.Sprintf("%d new drafts generated.", len(drafts))
	if err := r.notifier.Notify(ctx, "tweetpipe", body); err != nil {
		r.logger.WarnContext(ctx, "notify", "error", err)
	}

	return &Result{Key: key, Drafts: drafts}, nil
}

// Message returns the caller-facing message for a Run error
func Message(err error) string {
	switch {
	case err == nil:
		return MsgSuccess
	case errors.Is(err, ErrSourceUnavailable):
		return MsgSourceUnavailable
	case errors.Is(err, ErrGeneration):
		return MsgGeneration
	default:
		return MsgInternal
	}
}
