// Package ingest chunks reference documents and adds them to the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/irb-compliance/internal/storage"
	"github.com/bull/irb-compliance/internal/tokenizer"
	"github.com/bull/irb-compliance/internal/vectorindex"
)

// DefaultChunkTokens is the chunk size used for reference documents.
const DefaultChunkTokens = 500

// ErrEmptyDocument is returned when a document has no content.
var ErrEmptyDocument = errors.New("document content is empty")

// Source supplies reference documents as decoded text.
type Source interface {
	// Name identifies the source in logs and results.
	Name() string
	// List returns the references of every document in the source.
	List(ctx context.Context) ([]string, error)
	// Load returns a single document.
	Load(ctx context.Context, ref string) (storage.Document, error)
}

// Versioned is implemented by sources that can report the revision they serve.
type Versioned interface {
	Revision(ctx context.Context) (string, error)
}

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	Source         string
	Revision       string
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	Skipped        bool
	Duration       time.Duration
}

// FailedDoc represents a document that failed to index.
type FailedDoc struct {
	Ref    string
	Reason string
}

// Pipeline adds documents to an index. Ingestion is serialized so concurrent
// callers never race on the index's persisted state.
type Pipeline struct {
	tok         *tokenizer.Tokenizer
	index       vectorindex.Index
	store       storage.BlobStore
	chunkTokens int
	logger      *slog.Logger

	mu sync.Mutex
}

// NewPipeline creates an ingestion pipeline. store holds the default-documents flag.
func NewPipeline(tok *tokenizer.Tokenizer, index vectorindex.Index, store storage.BlobStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		tok:         tok,
		index:       index,
		store:       store,
		chunkTokens: DefaultChunkTokens,
		logger:      logger,
	}
}

// AddDocument chunks doc and inserts every chunk as "<id>-chunk-<i>". A
// document without an ID gets a random one. It stops at the first failed
// chunk; chunks inserted before it stay in the index.
func (p *Pipeline) AddDocument(ctx context.Context, doc storage.Document) (string, int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", 0, ErrEmptyDocument
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Metadata.Title == "" {
		doc.Metadata.Title = doc.ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	chunks := p.tok.ChunkDocument(doc, p.chunkTokens)
	for i, content := range chunks {
		chunk := storage.Chunk{
			ID:      fmt.Sprintf("%s-chunk-%d", doc.ID, i),
			Content: content,
			Metadata: storage.ChunkMetadata{
				Title:       doc.Metadata.Title,
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				Attributes:  doc.Metadata.Attributes,
			},
		}
		if err := p.index.AddChunk(ctx, chunk); err != nil {
			return doc.ID, i, fmt.Errorf("add chunk %d of %s: %w", i, doc.ID, err)
		}
	}

	p.logger.Info("Added document", "id", doc.ID, "chunks", len(chunks))
	return doc.ID, len(chunks), nil
}

// IndexAll adds every document from src. Documents that fail are recorded
// in the result and skipped.
func (p *Pipeline) IndexAll(ctx context.Context, src Source) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{Source: src.Name()}

	if v, ok := src.(Versioned); ok {
		rev, err := v.Revision(ctx)
		if err != nil {
			return nil, fmt.Errorf("get revision: %w", err)
		}
		result.Revision = rev
	}
	p.logger.Info("Starting indexing", "source", result.Source, "revision", result.Revision)

	refs, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	result.TotalDocs = len(refs)
	p.logger.Info("Found documents", "count", len(refs))

	for _, ref := range refs {
		chunks, err := p.processDocument(ctx, src, ref)
		if err != nil {
			p.logger.Warn("Failed to process document", "ref", ref, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Ref: ref, Reason: err.Error()})
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) processDocument(ctx context.Context, src Source, ref string) (int, error) {
	doc, err := src.Load(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("load: %w", err)
	}
	p.logger.Debug("Loaded document", "ref", ref, "size", len(doc.Content))

	_, chunks, err := p.AddDocument(ctx, doc)
	return chunks, err
}

// IngestDefaults indexes src once per data directory. The presence flag is
// written only when every document succeeded, so failures are retried on the
// next start.
func (p *Pipeline) IngestDefaults(ctx context.Context, src Source) (*IndexResult, error) {
	done, err := p.store.Exists(ctx, storage.DefaultDocumentsFlagKey)
	if err != nil {
		return nil, fmt.Errorf("check defaults flag: %w", err)
	}
	if done {
		p.logger.Info("Default documents already processed, skipping")
		return &IndexResult{Source: src.Name(), Skipped: true}, nil
	}

	result, err := p.IndexAll(ctx, src)
	if err != nil {
		return result, err
	}

	if len(result.FailedDocs) > 0 {
		p.logger.Warn("Default documents incomplete, flag not set", "failed", len(result.FailedDocs))
		return result, nil
	}
	if err := p.store.Put(ctx, storage.DefaultDocumentsFlagKey, []byte("processed")); err != nil {
		return result, fmt.Errorf("set defaults flag: %w", err)
	}
	return result, nil
}
