package ports

import (
	"context"
	"io"

	"github.com/avolkov/docvault/internal/core/domain"
)

// UploadInput carries one multipart upload into the ingest use case.
type UploadInput struct {
	Filename string
	Title    string
	Body     io.Reader
}

// DocumentUploader is the inbound contract for upload orchestration:
// validate, dedup by checksum, store, create the pending row, dispatch.
type DocumentUploader interface {
	Upload(ctx context.Context, in UploadInput) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
}

// ExtractionTrigger dispatches extraction work without waiting for it.
type ExtractionTrigger interface {
	TriggerDocument(ctx context.Context, documentID int64) error
	TriggerPending(ctx context.Context) ([]domain.BulkOutcome, error)
}

// DocumentProcessor is the worker-side contract: run one track of one
// document to a terminal status.
type DocumentProcessor interface {
	ProcessTrack(ctx context.Context, documentID int64, track domain.Track) error
}

// SearchService is the inbound contract of the search facade.
type SearchService interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error)
	SearchText(ctx context.Context, query string, limit, offset int) ([]domain.TextSearchHit, error)
	Export(ctx context.Context, req domain.ExportRequest, w io.Writer) (int, error)
}

// MetadataInspector produces the structured metadata record for a stored
// document.
type MetadataInspector interface {
	Inspect(ctx context.Context, documentID int64) (*domain.FileMetadata, error)
}

// DocumentRemover handles the user-driven delete and reindex actions.
type DocumentRemover interface {
	Delete(ctx context.Context, documentID int64) error
	Reindex(ctx context.Context, documentID int64) error
}
