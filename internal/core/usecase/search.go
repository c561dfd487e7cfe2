package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
	"github.com/avolkov/docvault/internal/core/querylang"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchUseCase is the search facade. It routes a request to the
// structured parser, the semantic engine, or plain keyword search, and
// reports which strategy actually served it.
type SearchUseCase struct {
	repo         ports.DocumentRepository
	searchIndex  ports.SearchIndex
	vectorIndex  ports.VectorIndex
	embedder     ports.Embedder
	exportLimits ExportLimits
	logger       *slog.Logger
}

func NewSearchUseCase(
	repo ports.DocumentRepository,
	searchIndex ports.SearchIndex,
	vectorIndex ports.VectorIndex,
	embedder ports.Embedder,
	exportLimits ExportLimits,
	logger *slog.Logger,
) *SearchUseCase {
	return &SearchUseCase{
		repo:         repo,
		searchIndex:  searchIndex,
		vectorIndex:  vectorIndex,
		embedder:     embedder,
		exportLimits: exportLimits,
		logger:       logger,
	}
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	req.Limit = clampLimit(req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}

	mode := req.Mode
	if mode == "" {
		if querylang.IsStructured(req.Query) {
			mode = domain.SearchModeStructured
		} else {
			mode = domain.SearchModeNatural
		}
	}

	switch mode {
	case domain.SearchModeStructured:
		return uc.searchStructured(ctx, req)
	case domain.SearchModeNatural:
		return uc.searchNatural(ctx, req)
	case domain.SearchModeSemantic:
		return uc.searchSemantic(ctx, req)
	case domain.SearchModeKeyword:
		return uc.searchKeyword(ctx, req, "")
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unknown mode %q", mode))
	}
}

func (uc *SearchUseCase) searchStructured(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	compiled, err := querylang.Parse(req.Query)
	if err != nil {
		if req.FallbackToKeyword {
			return uc.searchKeyword(ctx, req, "structured query rejected, degraded to keyword search")
		}
		return nil, err
	}

	page, err := uc.searchIndex.Search(ctx, domain.IndexQuery{
		Query:  compiled.Query,
		Filter: compiled.Filter,
		Facets: req.Facets,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	return resultFromPage(domain.SearchModeStructured, page, ""), nil
}

// searchNatural tries the semantic engine first. Degrading to keyword
// search when embedding or the vector index is unavailable requires the
// caller's opt-in; the degraded response is labeled keyword so callers
// can tell.
func (uc *SearchUseCase) searchNatural(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	result, err := uc.searchSemantic(ctx, req)
	if err == nil {
		result.SearchType = domain.SearchModeNatural
		return result, nil
	}
	if !req.FallbackToKeyword {
		return nil, err
	}

	uc.logger.Warn("semantic search unavailable, using keyword fallback",
		"error", err,
	)
	return uc.searchKeyword(ctx, req, "semantic search unavailable, served keyword results")
}

func (uc *SearchUseCase) searchSemantic(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	vector, err := uc.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := uc.vectorIndex.Search(ctx, vector, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	result := &domain.SearchResult{
		SearchType:     domain.SearchModeSemantic,
		Hits:           make([]domain.SearchHit, 0, len(hits)),
		EstimatedTotal: int64(len(hits)),
	}
	for _, hit := range hits {
		result.Hits = append(result.Hits, domain.SearchHit{
			ID:       hit.DocumentID,
			Title:    payloadString(hit.Payload, "title"),
			Filename: payloadString(hit.Payload, "filename"),
			MimeType: payloadString(hit.Payload, "mime_type"),
			Score:    hit.Score,
		})
	}
	return result, nil
}

func (uc *SearchUseCase) searchKeyword(ctx context.Context, req domain.SearchRequest, warning string) (*domain.SearchResult, error) {
	page, err := uc.searchIndex.Search(ctx, domain.IndexQuery{
		Query:  req.Query,
		Facets: req.Facets,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return resultFromPage(domain.SearchModeKeyword, page, warning), nil
}

// SearchText is the extraction API's substring search over extracted
// content, served straight from the store.
func (uc *SearchUseCase) SearchText(ctx context.Context, query string, limit, offset int) ([]domain.TextSearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search text", errors.New("query is required"))
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	hits, err := uc.repo.SearchExtractedText(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search extracted text: %w", err)
	}
	return hits, nil
}

func resultFromPage(searchType string, page *domain.IndexPage, warning string) *domain.SearchResult {
	return &domain.SearchResult{
		SearchType:     searchType,
		Hits:           page.Hits,
		EstimatedTotal: page.EstimatedTotal,
		Facets:         page.Facets,
		Warning:        warning,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

func payloadString(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
