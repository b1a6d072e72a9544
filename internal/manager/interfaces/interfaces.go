package interfaces

import (
	"context"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
)

// Source is a content origin the pipeline can ingest from. Implementations
// own their request throttling and their source-specific normalization rules.
type Source interface {
	// Name returns the source type this implementation handles
	Name() models.SourceType

	// Fetch retrieves at most limit raw records from the source
	Fetch(ctx context.Context, limit int) ([]models.RawRecord, error)

	// ToDocument normalizes a raw record into a document.
	// Returns nil (and no error) when the record should be skipped.
	ToDocument(record models.RawRecord) (*models.Document, error)
}

// Embedder defines the interface for generating vector embeddings.
type Embedder interface {
	// GenerateEmbedding creates a vector embedding for the given content
	GenerateEmbedding(ctx context.Context, content string) ([]float32, error)

	// GetModelName returns the name of the embedding model
	GetModelName() string

	// GetDimension returns the dimension of the embedding vectors
	GetDimension() int

	// GetMaxTokens returns the maximum number of tokens this embedder can handle
	GetMaxTokens() int
}

// UpsertPolicy controls how the persistence gateway treats documents that
// already exist in the store.
type UpsertPolicy struct {
	SkipDuplicates bool
	UpdateExisting bool
	DryRun         bool
}

// UpsertResult summarizes one upsert pass.
type UpsertResult struct {
	Uploaded   int
	Updated    int
	Skipped    int
	Duplicates int
	Errors     int
}

// DocumentFilter narrows a candidate scan over the document store.
// Zero values mean "no constraint".
type DocumentFilter struct {
	ContentType models.ContentType
	Source      models.SourceType
	MinQuality  float64
	Limit       int
}

// DocumentStore is the read/write boundary to the document collection.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Upsert(ctx context.Context, docs []*models.Document, policy UpsertPolicy) (*UpsertResult, error)
	Scan(ctx context.Context, filter DocumentFilter) ([]*models.Document, error)
	ExistingHashes(ctx context.Context) (map[string]bool, error)
	Delete(ctx context.Context, id string) error
	UpdateQuality(ctx context.Context, id string, score float64, contentType models.ContentType) error
}

// EmbeddingStore is the boundary to the embedding collection, keyed by
// content id, one embedding per document.
type EmbeddingStore interface {
	Get(ctx context.Context, contentID string) (*models.Embedding, error)
	Upsert(ctx context.Context, embedding *models.Embedding) error
	Delete(ctx context.Context, contentID string) error
	EmbeddedIDs(ctx context.Context) (map[string]time.Time, error)
	StaleModelIDs(ctx context.Context, currentModel string) ([]string, error)
	OrphanedIDs(ctx context.Context) ([]string, error)
}

// IngestResult represents the outcome of one ingestion run.
type IngestResult struct {
	RunID      string
	Fetched    int
	Normalized int
	Rejected   int
	Duplicates int
	Uploaded   int
	Errors     int
	ErrorList  []ItemError
}

// ItemError records one per-item failure without aborting the run.
type ItemError struct {
	ItemID  string
	Message string
}

// BatchResult is the aggregate outcome of a batch embedding run.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
	HighQ      int
	MediumQ    int
	LowQ       int
	ErrorList  []ItemError
}
