// Package evaluator runs the per-section retrieval-augmented evaluation of a
// study proposal and condenses the result into a final verdict.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/irb-compliance/internal/llm"
	"github.com/bull/irb-compliance/internal/ratelimit"
	"github.com/bull/irb-compliance/internal/sections"
	"github.com/bull/irb-compliance/internal/tokenizer"
)

var (
	// ErrEmptyStudy is returned for blank study text.
	ErrEmptyStudy = errors.New("study content is empty")

	// ErrNoEvaluation is returned when every chunk evaluation failed.
	ErrNoEvaluation = errors.New("no evaluation generated")
)

// Retriever returns reference passages similar to query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// Config holds the token budgets of the pipeline. Zero values select the defaults.
type Config struct {
	// Model overrides the completer's default model.
	Model string
	// SectionChunkTokens bounds each evaluated piece of a section.
	SectionChunkTokens int
	// TopK is the number of reference passages retrieved per chunk.
	TopK int
	// ContextWindow is the model's total token window.
	ContextWindow int
	// ResponseReserve is kept free in the window for the response.
	ResponseReserve int
	// SummaryChunkTokens bounds each piece during recursive summarization.
	SummaryChunkTokens int
	// MaxSummaryPasses caps recursive summarization.
	MaxSummaryPasses int
}

const (
	DefaultSectionChunkTokens = 2000
	DefaultContextWindow      = 8192
	DefaultResponseReserve    = 512
	DefaultSummaryChunkTokens = 4000
	DefaultMaxSummaryPasses   = 8
	DefaultTopK               = 3

	evaluationTemperature = 0
)

func (c Config) withDefaults() Config {
	if c.SectionChunkTokens <= 0 {
		c.SectionChunkTokens = DefaultSectionChunkTokens
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.ResponseReserve <= 0 {
		c.ResponseReserve = DefaultResponseReserve
	}
	if c.SummaryChunkTokens <= 0 {
		c.SummaryChunkTokens = DefaultSummaryChunkTokens
	}
	if c.MaxSummaryPasses <= 0 {
		c.MaxSummaryPasses = DefaultMaxSummaryPasses
	}
	return c
}

// ChunkFailure records a chunk whose evaluation was skipped.
type ChunkFailure struct {
	Section string
	Chunk   int
	Err     error
}

func (f ChunkFailure) String() string {
	return fmt.Sprintf("section %q chunk %d: %v", f.Section, f.Chunk, f.Err)
}

// Result is the outcome of evaluating one study.
type Result struct {
	FullEvaluation string
	Summary        string
	Failures       []ChunkFailure
	Warnings       []string
	Duration       time.Duration
}

func (r *Result) warn(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}

// Evaluator evaluates study proposals against the reference corpus.
type Evaluator struct {
	completer llm.Completer
	limiter   *ratelimit.Limiter
	tok       *tokenizer.Tokenizer
	retriever Retriever
	sections  *sections.Identifier
	cfg       Config
	logger    *slog.Logger
}

// New creates an Evaluator. Every model call goes through limiter.
func New(completer llm.Completer, limiter *ratelimit.Limiter, tok *tokenizer.Tokenizer, retriever Retriever, cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		completer: completer,
		limiter:   limiter,
		tok:       tok,
		retriever: retriever,
		sections:  sections.NewIdentifier(logger),
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Query evaluates study section by section, then summarizes the evaluation.
// Chunks whose evaluation fails are skipped and listed in Result.Failures.
func (e *Evaluator) Query(ctx context.Context, study string) (*Result, error) {
	if strings.TrimSpace(study) == "" {
		return nil, ErrEmptyStudy
	}
	start := time.Now()
	res := &Result{}

	secs, report := e.sections.IdentifyWithReport(study)
	for _, w := range report.Warnings() {
		res.warn(w)
	}
	e.logger.Info("Evaluating study", "sections", len(secs))

	var full strings.Builder
	for _, sec := range secs {
		text, err := e.evaluateSection(ctx, sec, res)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString("\n\n")
		}
		fmt.Fprintf(&full, "## %s\n\n%s", sec.Title, text)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if full.Len() == 0 {
		return nil, fmt.Errorf("evaluate: %w (%d chunks failed)", ErrNoEvaluation, len(res.Failures))
	}
	res.FullEvaluation = full.String()

	condensed, err := e.summarize(ctx, res.FullEvaluation, res)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	summary, err := e.finalSummary(ctx, condensed)
	if err != nil {
		return nil, fmt.Errorf("final: %w", err)
	}
	res.Summary = summary
	res.Duration = time.Since(start)

	e.logger.Info("Study evaluated",
		"sections", len(secs),
		"failed_chunks", len(res.Failures),
		"duration", res.Duration)
	return res, nil
}

// evaluateSection returns the concatenated chunk evaluations of sec. It only
// fails when ctx is done.
func (e *Evaluator) evaluateSection(ctx context.Context, sec sections.Section, res *Result) (string, error) {
	chunks := e.tok.ChunkText(sec.Content, e.cfg.SectionChunkTokens)
	e.logger.Debug("Section chunked", "section", sec.Title, "chunks", len(chunks))

	var buf strings.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("evaluate: %w", err)
		}

		out, err := e.evaluateChunk(ctx, sec.Title, i+1, len(chunks), chunk, res)
		if err != nil {
			e.logger.Warn("Chunk evaluation failed, skipping",
				"section", sec.Title,
				"chunk", i+1,
				"error", err)
			res.Failures = append(res.Failures, ChunkFailure{Section: sec.Title, Chunk: i + 1, Err: err})
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(strings.TrimSpace(out))
	}
	return buf.String(), nil
}

func (e *Evaluator) evaluateChunk(ctx context.Context, title string, part, parts int, chunk string, res *Result) (string, error) {
	passages, err := e.retriever.Search(ctx, chunk, e.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	criteria := e.generateCriteria(ctx, title, res)

	budget := e.cfg.ContextWindow - e.cfg.ResponseReserve
	prompt := e.buildPrompt(criteria, passages, title, part, parts, chunk, budget)
	promptTokens := e.tok.CountTokens(prompt)

	maxTokens := e.cfg.ContextWindow - promptTokens
	if maxTokens < 1 {
		maxTokens = 1
	}
	e.logger.Debug("Evaluating chunk",
		"section", title,
		"part", part,
		"prompt_tokens", promptTokens,
		"passages", len(passages))

	return e.complete(ctx, prompt, promptTokens, evaluationTemperature, maxTokens)
}

// complete runs one model call through the rate limiter.
func (e *Evaluator) complete(ctx context.Context, prompt string, tokens int, temperature float64, maxTokens int) (string, error) {
	var out string
	err := e.limiter.Limit(ctx, tokens, func(ctx context.Context) error {
		resp, err := e.completer.Complete(ctx, llm.Request{
			Messages:    llm.UserPrompt(prompt),
			Model:       e.cfg.Model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}
