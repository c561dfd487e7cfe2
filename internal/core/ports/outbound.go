package ports

import (
	"context"
	"io"
	"time"

	"github.com/avolkov/docvault/internal/core/domain"
)

// DocumentRepository persists document state. All track mutations are
// compare-and-set against the allowed-transition table; an out-of-table
// move returns domain.ErrTransitionRejected without touching the row.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	GetByChecksum(ctx context.Context, checksum string) (*domain.Document, error)
	Delete(ctx context.Context, id int64) error

	// ClaimTrack moves a track into processing from any reprocessable
	// status. Exactly one of two concurrent claims succeeds.
	ClaimTrack(ctx context.Context, id int64, track domain.Track) error
	CompleteTextTrack(ctx context.Context, id int64, text, textPath string, meta map[string]any) error
	CompleteOCRTrack(ctx context.Context, id int64, text string, confidence float64) error
	FailTrack(ctx context.Context, id int64, track domain.Track, reason string) error
	MarkUnsupported(ctx context.Context, id int64, track domain.Track) error
	SetIndexingStatus(ctx context.Context, id int64, status domain.IndexingStatus) error

	ListReprocessable(ctx context.Context) ([]domain.PendingTrack, error)
	FailStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	SearchExtractedText(ctx context.Context, query string, limit, offset int) ([]domain.TextSearchHit, error)
}

// ObjectStorage stores source files under deterministic date-partitioned
// paths and derived artifacts next to them.
type ObjectStorage interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
	SaveDerived(ctx context.Context, basePath, ext string, data []byte) (string, error)
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
	Remove(ctx context.Context, relPath string) error
}

// ExtractionQueue dispatches and consumes per-track extraction jobs with
// at-least-once delivery. Handlers must be idempotent per (document,
// track); the repository claim provides that.
type ExtractionQueue interface {
	PublishExtractionJob(ctx context.Context, job domain.ExtractionJob) error
	SubscribeExtractionJobs(ctx context.Context, handler func(context.Context, domain.ExtractionJob) error) error
}

// TextExtractor extracts plain text and document metadata from a stored
// file (Tika).
type TextExtractor interface {
	ExtractText(ctx context.Context, content io.Reader, mimeType string) (string, map[string]any, error)
}

// OCRProvider extracts text from an image. Providers form an ordered
// fallback cascade; each reports a confidence for its output.
type OCRProvider interface {
	Name() string
	ExtractImageText(ctx context.Context, image []byte, mimeType string) (domain.OCRResult, error)
}

// SearchIndex is the full-text engine (Meilisearch).
type SearchIndex interface {
	IndexDocument(ctx context.Context, entry domain.IndexEntry) error
	Search(ctx context.Context, q domain.IndexQuery) (*domain.IndexPage, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// VectorIndex is the semantic engine (Qdrant).
type VectorIndex interface {
	IndexDocument(ctx context.Context, id int64, vector []float32, payload map[string]any) error
	Search(ctx context.Context, vector []float32, limit int) ([]domain.VectorHit, error)
	DeleteDocument(ctx context.Context, id int64) error
}

// Embedder builds vectors for indexing and query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MetadataExtractor derives the structured metadata record for a stored
// path.
type MetadataExtractor interface {
	Extract(ctx context.Context, relPath string) (*domain.FileMetadata, error)
}
