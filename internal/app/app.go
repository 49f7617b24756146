// Package app builds the evaluation pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bull/irb-compliance/internal/config"
	"github.com/bull/irb-compliance/internal/embedding"
	"github.com/bull/irb-compliance/internal/evaluator"
	ghclient "github.com/bull/irb-compliance/internal/github"
	"github.com/bull/irb-compliance/internal/ingest"
	"github.com/bull/irb-compliance/internal/llm"
	"github.com/bull/irb-compliance/internal/ratelimit"
	"github.com/bull/irb-compliance/internal/storage"
	"github.com/bull/irb-compliance/internal/tokenizer"
	"github.com/bull/irb-compliance/internal/vectorindex"
)

// App holds the process-wide components. One App, and so one rate limiter and
// one vector index, is shared by every request.
type App struct {
	Config    config.Config
	Tokenizer *tokenizer.Tokenizer
	Limiter   *ratelimit.Limiter
	Store     storage.BlobStore
	Index     vectorindex.Index
	Evaluator *evaluator.Evaluator
	Ingest    *ingest.Pipeline

	logger  *slog.Logger
	closers []func() error
}

// NewLogger creates the process logger writing text to stderr.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// New connects every component described by cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	tok, err := tokenizer.New(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	a.Tokenizer = tok

	embeddingClient, err := embedding.NewClient(cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, cfg.EmbeddingModel, 0)

	completer, err := llm.NewClient(cfg.GroqAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	if err := a.openStorage(ctx, cfg, embedder); err != nil {
		a.Close()
		return nil, err
	}

	a.Limiter = ratelimit.New(cfg.RateLimit(), ratelimit.WithLogger(logger))
	a.Evaluator = evaluator.New(completer, a.Limiter, tok, a.Index, evaluator.Config{Model: cfg.LLMModel}, logger)
	a.Ingest = ingest.NewPipeline(tok, a.Index, a.Store, logger)

	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg config.Config, embedder vectorindex.Embedder) error {
	switch cfg.IndexBackend {
	case config.BackendSQLite:
		store, err := storage.NewSQLiteStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	default:
		store, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open file store: %w", err)
		}
		a.Store = store
	}

	if cfg.IndexBackend == config.BackendQdrant {
		ix, err := vectorindex.NewQdrantIndex(ctx, cfg.Qdrant(), embedder, a.logger)
		if err != nil {
			return fmt.Errorf("connect to qdrant: %w", err)
		}
		a.Index = ix
		a.closers = append(a.closers, ix.Close)
		return nil
	}

	ix, err := vectorindex.NewLocalIndex(ctx, embedder, a.Store, a.logger)
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	a.Index = ix
	return nil
}

// DefaultSource returns the configured source of default reference documents.
func (a *App) DefaultSource() (ingest.Source, error) {
	if a.Config.DefaultDocumentsRepo == "" {
		return ingest.NewDirSource(a.Config.DefaultDocumentsDir), nil
	}
	return NewGitHubSource(a.Config.DefaultDocumentsRepo, a.Config.GitHubToken)
}

// NewGitHubSource creates a source for an "owner/repo/path" location.
func NewGitHubSource(location, token string) (ingest.Source, error) {
	owner, repo, base, err := ghclient.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	client, err := ghclient.NewClient(token)
	if err != nil {
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}
	return ghclient.NewFetcher(client, owner, repo, base), nil
}

// IngestDefaults indexes the default documents unless that was done before.
func (a *App) IngestDefaults(ctx context.Context) (*ingest.IndexResult, error) {
	src, err := a.DefaultSource()
	if err != nil {
		return nil, err
	}
	return a.Ingest.IngestDefaults(ctx, src)
}

// Health reports whether the index backend is reachable.
func (a *App) Health(ctx context.Context) error {
	if h, ok := a.Index.(interface{ Health(context.Context) error }); ok {
		return h.Health(ctx)
	}
	_, err := a.Index.Count(ctx)
	return err
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
