package usecase

import (
	"context"
	"fmt"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// InspectMetadataUseCase produces the structured metadata record for a
// stored document on demand.
type InspectMetadataUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.MetadataExtractor
}

func NewInspectMetadataUseCase(repo ports.DocumentRepository, extractor ports.MetadataExtractor) *InspectMetadataUseCase {
	return &InspectMetadataUseCase{repo: repo, extractor: extractor}
}

func (uc *InspectMetadataUseCase) Inspect(ctx context.Context, documentID int64) (*domain.FileMetadata, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	meta, err := uc.extractor.Extract(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}
	// The record owns identity attributes; the filesystem only
	// contributes what the row cannot know.
	meta.Filename = doc.Filename
	return meta, nil
}
