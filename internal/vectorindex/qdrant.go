package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/irb-compliance/internal/storage"
)

// ErrQdrantUnreachable is returned when the startup health check never succeeds.
var ErrQdrantUnreachable = errors.New("qdrant server unreachable")

const (
	// DefaultCollection holds the reference corpus.
	DefaultCollection = "irb_standards"

	// DefaultDimension is the output size of text-embedding-ada-002.
	DefaultDimension = 1536

	vectorName    = "content"
	attributesKey = "attr_"
)

// QdrantConfig locates the Qdrant server and collection.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantIndex keeps chunks in a Qdrant collection and lets Qdrant do the
// nearest-neighbour search.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	embedder   Embedder
	logger     *slog.Logger
}

// NewQdrantIndex connects to Qdrant, waits for it to become healthy and makes
// sure the collection exists.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantIndex, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	ix := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		embedder:   embedder,
		logger:     logger,
	}

	if err := ix.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	if err := ix.EnsureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return ix, nil
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (ix *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return ix.Health(ctx)
	}, backoff.WithContext(newRetryBackOff(), ctx))
}

// Health performs a single health check against Qdrant.
func (ix *QdrantIndex) Health(ctx context.Context) error {
	result, err := ix.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if it is missing.
func (ix *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := ix.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == ix.collection {
			return nil
		}
	}

	err = ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(ix.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = ix.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: ix.collection,
		FieldName:      "title",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field title: %w", err)
	}
	return nil
}

// AddChunk embeds the chunk and upserts it as one point. Re-adding a chunk ID
// overwrites the previous point.
func (ix *QdrantIndex) AddChunk(ctx context.Context, chunk storage.Chunk) error {
	embedding, err := ix.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
	}
	if len(embedding) != ix.dimension {
		return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, chunk.ID, len(embedding), ix.dimension)
	}

	point := &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(PointID(chunk.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			vectorName: qdrant.NewVector(embedding...),
		}),
		Payload: qdrant.NewValueMap(chunkPayload(chunk)),
	}

	return backoff.Retry(func() error {
		_, err := ix.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: ix.collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	}, backoff.WithContext(newRetryBackOff(), ctx))
}

// Search returns the contents of the topK points nearest to query.
func (ix *QdrantIndex) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			storage.ErrDimensionMismatch, len(embedding), ix.dimension)
	}

	using := vectorName
	results, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &using,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayloadInclude("content"),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	contents := make([]string, 0, len(results))
	for _, result := range results {
		contents = append(contents, result.Payload["content"].GetStringValue())
	}
	return contents, nil
}

// Count returns the number of points in the collection.
func (ix *QdrantIndex) Count(ctx context.Context) (int, error) {
	info, err := ix.client.GetCollectionInfo(ctx, ix.collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	return int(info.GetPointsCount()), nil
}

// Clear drops and recreates the collection.
func (ix *QdrantIndex) Clear(ctx context.Context) error {
	if err := ix.client.DeleteCollection(ctx, ix.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return ix.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (ix *QdrantIndex) Close() error {
	if ix.client != nil {
		return ix.client.Close()
	}
	return nil
}

// PointID maps a chunk ID onto the UUID Qdrant requires. The mapping is
// deterministic so re-ingesting a document overwrites its points.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunk:"+chunkID)).String()
}

func chunkPayload(chunk storage.Chunk) map[string]any {
	payload := map[string]any{
		"chunk_id":     chunk.ID,
		"content":      chunk.Content,
		"title":        chunk.Metadata.Title,
		"chunk_index":  int64(chunk.Metadata.ChunkIndex),
		"total_chunks": int64(chunk.Metadata.TotalChunks),
	}
	for k, v := range chunk.Metadata.Attributes {
		payload[attributesKey+strings.ToLower(k)] = v
	}
	return payload
}
