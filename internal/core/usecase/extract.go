package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// ExtractTrackUseCase runs one extraction track of one document to a
// terminal status. It is the worker-side handler behind the queue and is
// idempotent per (document, track): the repository claim serializes
// concurrent runs, and a rejected claim means someone else already owns
// the work.
type ExtractTrackUseCase struct {
	repo          ports.DocumentRepository
	storage       ports.ObjectStorage
	textExtractor ports.TextExtractor
	ocrProviders  []ports.OCRProvider
	indexer       *IndexDocumentUseCase
	routing       *domain.RoutingTable
	logger        *slog.Logger

	minOCRConfidence float64
}

func NewExtractTrackUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	textExtractor ports.TextExtractor,
	ocrProviders []ports.OCRProvider,
	indexer *IndexDocumentUseCase,
	routing *domain.RoutingTable,
	minOCRConfidence float64,
	logger *slog.Logger,
) *ExtractTrackUseCase {
	return &ExtractTrackUseCase{
		repo:             repo,
		storage:          storage,
		textExtractor:    textExtractor,
		ocrProviders:     ocrProviders,
		indexer:          indexer,
		routing:          routing,
		minOCRConfidence: minOCRConfidence,
		logger:           logger,
	}
}

func (uc *ExtractTrackUseCase) ProcessTrack(ctx context.Context, documentID int64, track domain.Track) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}

	if !uc.routing.TrackFor(doc.MimeType, track) {
		// Routing says this track never applies; settle the state machine
		// if the row still says pending.
		if err := uc.repo.MarkUnsupported(ctx, documentID, track); err != nil && !domain.IsKind(err, domain.ErrTransitionRejected) {
			return fmt.Errorf("mark unsupported: %w", err)
		}
		return nil
	}

	if err := uc.repo.ClaimTrack(ctx, documentID, track); err != nil {
		if domain.IsKind(err, domain.ErrTransitionRejected) {
			// Concurrent trigger or already-terminal track; nothing to do.
			uc.logger.Debug("extraction claim rejected",
				"document_id", documentID,
				"track", track,
			)
			return nil
		}
		return fmt.Errorf("claim track: %w", err)
	}

	if err := uc.runTrack(ctx, doc, track); err != nil {
		if failErr := uc.repo.FailTrack(ctx, documentID, track, err.Error()); failErr != nil {
			uc.logger.Error("record track failure",
				"document_id", documentID,
				"track", track,
				"error", failErr,
			)
		}
		return err
	}

	uc.indexer.IndexBestEffort(ctx, documentID)
	return nil
}

func (uc *ExtractTrackUseCase) runTrack(ctx context.Context, doc *domain.Document, track domain.Track) error {
	file, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	defer file.Close()

	if track == domain.TrackOCR {
		return uc.runOCR(ctx, doc, file)
	}
	return uc.runText(ctx, doc, file)
}

func (uc *ExtractTrackUseCase) runText(ctx context.Context, doc *domain.Document, file io.Reader) error {
	text, meta, err := uc.textExtractor.ExtractText(ctx, file, doc.MimeType)
	if err != nil {
		if domain.IsKind(err, domain.ErrServiceUnavailable) {
			return err
		}
		return domain.WrapError(domain.ErrExtractionFailed, "text extraction", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.WrapError(domain.ErrExtractionFailed, "text extraction", errors.New("empty extracted text"))
	}

	// The derived .txt artifact is convenience output; losing it only
	// costs the sidecar file, the text itself lives in the row.
	textPath, err := uc.storage.SaveDerived(ctx, doc.StoragePath, ".txt", []byte(text))
	if err != nil {
		uc.logger.Warn("save extracted text artifact",
			"document_id", doc.ID,
			"error", err,
		)
		textPath = ""
	}

	if err := uc.repo.CompleteTextTrack(ctx, doc.ID, text, textPath, meta); err != nil {
		return fmt.Errorf("complete text track: %w", err)
	}
	return nil
}

// runOCR walks the provider cascade in order. A provider's output is
// accepted when it is non-empty and meets the confidence floor; anything
// else falls through to the next provider. The last provider's output is
// accepted even below the floor, better some text than none.
func (uc *ExtractTrackUseCase) runOCR(ctx context.Context, doc *domain.Document, file io.Reader) error {
	image, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read stored image: %w", err)
	}

	var lastErr error
	for i, provider := range uc.ocrProviders {
		last := i == len(uc.ocrProviders)-1

		result, err := provider.ExtractImageText(ctx, image, doc.MimeType)
		if err != nil {
			uc.logger.Warn("ocr provider failed",
				"document_id", doc.ID,
				"provider", provider.Name(),
				"error", err,
			)
			lastErr = err
			continue
		}
		if result.Text == "" || (!last && result.Confidence < uc.minOCRConfidence) {
			uc.logger.Info("ocr result below threshold, falling back",
				"document_id", doc.ID,
				"provider", provider.Name(),
				"confidence", result.Confidence,
			)
			lastErr = fmt.Errorf("%s produced no usable text", provider.Name())
			continue
		}

		if err := uc.repo.CompleteOCRTrack(ctx, doc.ID, result.Text, result.Confidence); err != nil {
			return fmt.Errorf("complete ocr track: %w", err)
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no ocr providers configured")
	}
	if domain.IsKind(lastErr, domain.ErrServiceUnavailable) {
		return lastErr
	}
	return domain.WrapError(domain.ErrExtractionFailed, "ocr cascade", lastErr)
}
