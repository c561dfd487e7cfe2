package usecase

import (
	"context"
	"fmt"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// GetDocumentUseCase is the read model behind the status endpoint.
type GetDocumentUseCase struct {
	repo ports.DocumentRepository
}

func NewGetDocumentUseCase(repo ports.DocumentRepository) *GetDocumentUseCase {
	return &GetDocumentUseCase{repo: repo}
}

func (uc *GetDocumentUseCase) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return doc, nil
}
