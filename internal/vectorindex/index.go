// Package vectorindex stores embedded reference chunks and retrieves the ones
// most similar to a query.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bull/irb-compliance/internal/storage"
)

// DefaultTopK is the number of passages returned when topK is not positive.
const DefaultTopK = 3

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is implemented by every vector index backend.
type Index interface {
	AddChunk(ctx context.Context, chunk storage.Chunk) error
	Search(ctx context.Context, query string, topK int) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// ScoredEntry is a stored entry with its similarity to a query.
type ScoredEntry struct {
	Entry storage.VectorEntry
	Score float64
}

// LocalIndex is an in-memory index keyed by chunk ID and scanned linearly on search.
// The full entry list is rewritten to the blob store after every insertion.
type LocalIndex struct {
	embedder Embedder
	store    storage.BlobStore
	logger   *slog.Logger

	mu        sync.RWMutex
	entries   []storage.VectorEntry
	dimension int
}

// NewLocalIndex creates an index and loads any entries already persisted in store.
func NewLocalIndex(ctx context.Context, embedder Embedder, store storage.BlobStore, logger *slog.Logger) (*LocalIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &LocalIndex{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
	if err := ix.load(ctx); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *LocalIndex) load(ctx context.Context) error {
	data, err := ix.store.Get(ctx, storage.VectorStoreKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}

	var entries []storage.VectorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode vectors: %w", err)
	}

	for i, e := range entries {
		if len(e.Embedding) != len(entries[0].Embedding) {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				storage.ErrDimensionMismatch, i, len(e.Embedding), len(entries[0].Embedding))
		}
	}

	ix.entries = entries
	if len(entries) > 0 {
		ix.dimension = len(entries[0].Embedding)
	}
	ix.logger.Info("Loaded vectors from storage", "count", len(entries))
	return nil
}

// AddChunk embeds the chunk and persists the index with it. A chunk whose ID
// is already stored replaces that entry in place. An embedding or persist
// failure leaves the index untouched.
func (ix *LocalIndex) AddChunk(ctx context.Context, chunk storage.Chunk) error {
	embedding, err := ix.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embed chunk %s: empty embedding", chunk.ID)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimension != 0 && len(embedding) != ix.dimension {
		return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, chunk.ID, len(embedding), ix.dimension)
	}

	entry := storage.VectorEntry{
		ID:        chunk.ID,
		Content:   chunk.Content,
		Embedding: embedding,
		Metadata:  chunk.Metadata,
	}

	next := make([]storage.VectorEntry, len(ix.entries), len(ix.entries)+1)
	copy(next, ix.entries)
	replaced := false
	for i := range next {
		if next[i].ID == chunk.ID {
			next[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, entry)
	}

	if err := ix.persist(ctx, next); err != nil {
		return err
	}
	ix.entries = next
	ix.dimension = len(embedding)
	return nil
}

// persist overwrites the stored index with entries. Caller holds mu.
func (ix *LocalIndex) persist(ctx context.Context, entries []storage.VectorEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := ix.store.Put(ctx, storage.VectorStoreKey, data); err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}
	ix.logger.Debug("Saved vectors to storage", "count", len(entries))
	return nil
}

// Search returns the contents of the topK entries most similar to query.
func (ix *LocalIndex) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if n, _ := ix.Count(ctx); n == 0 {
		return []string{}, nil
	}

	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored := ix.Query(embedding, topK)
	contents := make([]string, len(scored))
	for i, s := range scored {
		contents[i] = s.Entry.Content
	}
	return contents, nil
}

// Query scores every entry against embedding and returns the best topK,
// highest first. Equal scores keep insertion order.
func (ix *LocalIndex) Query(embedding []float32, topK int) []ScoredEntry {
	if topK <= 0 {
		topK = DefaultTopK
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scored := make([]ScoredEntry, len(ix.entries))
	for i, e := range ix.entries {
		scored[i] = ScoredEntry{Entry: e, Score: CosineSimilarity(embedding, e.Embedding)}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})

	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored
}

// Count returns the number of stored entries.
func (ix *LocalIndex) Count(context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries), nil
}

// Dimension returns the embedding length, or 0 for an empty index.
func (ix *LocalIndex) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}
