package storage

// Document is a unit of raw text handed to the chunker, either a reference
// standard for the corpus or a study under evaluation.
type Document struct {
	ID       string           `json:"id"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// DocumentMetadata describes a document. Attributes carries any extra fields
// supplied at ingestion (source path, URL, upload name).
type DocumentMetadata struct {
	Title      string            `json:"title"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Chunk is a token-bounded slice of a document waiting to be embedded.
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata links a chunk back to its document and position.
type ChunkMetadata struct {
	Title       string            `json:"title"`
	ChunkIndex  int               `json:"chunkIndex"`
	TotalChunks int               `json:"totalChunks"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// VectorEntry is a chunk together with its embedding as persisted by the vector index.
// All entries in one index share the same embedding length.
type VectorEntry struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// Keys used in the durable store.
const (
	// VectorStoreKey holds the serialized vector index.
	VectorStoreKey = "vector_store.json"

	// DefaultDocumentsFlagKey marks that the default reference documents were ingested.
	DefaultDocumentsFlagKey = "default_documents_processed"
)
