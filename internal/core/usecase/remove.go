package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// RemoveDocumentUseCase deletes a document everywhere: row, stored file,
// derived artifacts, and both search engines. The row is the source of
// truth, so it goes last only after its storage paths are captured.
type RemoveDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	indexer *IndexDocumentUseCase
	logger  *slog.Logger
}

func NewRemoveDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	indexer *IndexDocumentUseCase,
	logger *slog.Logger,
) *RemoveDocumentUseCase {
	return &RemoveDocumentUseCase{
		repo:    repo,
		storage: storage,
		indexer: indexer,
		logger:  logger,
	}
}

func (uc *RemoveDocumentUseCase) Delete(ctx context.Context, documentID int64) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	if err := uc.repo.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete document record: %w", err)
	}

	// Cleanup past this point is best-effort; the record is gone and the
	// document no longer exists as far as the API is concerned.
	if err := uc.storage.Remove(ctx, doc.StoragePath); err != nil {
		uc.logger.Warn("remove stored file", "document_id", documentID, "error", err)
	}
	if doc.ExtractedTextPath != "" {
		if err := uc.storage.Remove(ctx, doc.ExtractedTextPath); err != nil {
			uc.logger.Warn("remove extracted text artifact", "document_id", documentID, "error", err)
		}
	}
	uc.indexer.Deindex(ctx, documentID)

	uc.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// Reindex rebuilds the document's search engine entries from the stored
// row, for when an engine was rebuilt or an earlier indexing attempt
// failed.
func (uc *RemoveDocumentUseCase) Reindex(ctx context.Context, documentID int64) error {
	if err := uc.indexer.Index(ctx, documentID); err != nil {
		return fmt.Errorf("reindex document: %w", err)
	}
	if err := uc.repo.SetIndexingStatus(ctx, documentID, domain.IndexingDone); err != nil {
		uc.logger.Warn("record indexing status", "document_id", documentID, "error", err)
	}
	return nil
}
