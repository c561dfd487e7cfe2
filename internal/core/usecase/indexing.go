package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
	"github.com/avolkov/docvault/internal/core/textproc"
)

// embedLimit caps the text sent to the embedder; full documents routinely
// exceed embedding model input windows.
const embedLimit = 8000

// IndexDocumentUseCase pushes a document's extracted content into the
// search engines. Indexing is strictly best-effort downstream of
// extraction: an index outage never changes a track status, only the
// indexing_status column.
type IndexDocumentUseCase struct {
	repo        ports.DocumentRepository
	searchIndex ports.SearchIndex
	vectorIndex ports.VectorIndex
	embedder    ports.Embedder
	logger      *slog.Logger
}

func NewIndexDocumentUseCase(
	repo ports.DocumentRepository,
	searchIndex ports.SearchIndex,
	vectorIndex ports.VectorIndex,
	embedder ports.Embedder,
	logger *slog.Logger,
) *IndexDocumentUseCase {
	return &IndexDocumentUseCase{
		repo:        repo,
		searchIndex: searchIndex,
		vectorIndex: vectorIndex,
		embedder:    embedder,
		logger:      logger,
	}
}

// IndexBestEffort indexes the document and records the outcome, logging
// instead of propagating failures.
func (uc *IndexDocumentUseCase) IndexBestEffort(ctx context.Context, documentID int64) {
	status := domain.IndexingDone
	if err := uc.Index(ctx, documentID); err != nil {
		uc.logger.Warn("document indexing failed",
			"document_id", documentID,
			"error", err,
		)
		status = domain.IndexingFailed
	}
	if err := uc.repo.SetIndexingStatus(ctx, documentID, status); err != nil {
		uc.logger.Warn("record indexing status",
			"document_id", documentID,
			"error", err,
		)
	}
}

func (uc *IndexDocumentUseCase) Index(ctx context.Context, documentID int64) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	content := doc.SearchableText()
	if content == "" {
		return fmt.Errorf("document %d has no extracted content", documentID)
	}

	entry := domain.IndexEntry{
		ID:       doc.ID,
		Title:    doc.Title,
		Filename: doc.Filename,
		MimeType: doc.MimeType,
		Content:  content,
	}
	if err := uc.searchIndex.IndexDocument(ctx, entry); err != nil {
		return fmt.Errorf("index full text: %w", err)
	}

	vector, err := uc.embedder.Embed(ctx, textproc.Excerpt(content, embedLimit))
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	payload := map[string]any{
		"title":     doc.Title,
		"filename":  doc.Filename,
		"mime_type": doc.MimeType,
	}
	if err := uc.vectorIndex.IndexDocument(ctx, doc.ID, vector, payload); err != nil {
		return fmt.Errorf("index vector: %w", err)
	}
	return nil
}

// Deindex removes the document from both engines, tolerating documents
// that were never indexed.
func (uc *IndexDocumentUseCase) Deindex(ctx context.Context, documentID int64) {
	if err := uc.searchIndex.DeleteDocument(ctx, documentID); err != nil {
		uc.logger.Warn("remove from full-text index", "document_id", documentID, "error", err)
	}
	if err := uc.vectorIndex.DeleteDocument(ctx, documentID); err != nil {
		uc.logger.Warn("remove from vector index", "document_id", documentID, "error", err)
	}
}
