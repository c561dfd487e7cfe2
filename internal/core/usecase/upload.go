package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

// UploadDocumentUseCase validates an upload, dedups it by content
// checksum, persists file and record, and dispatches extraction jobs for
// the tracks its MIME type routes to.
type UploadDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.ExtractionQueue
	routing *domain.RoutingTable
	logger  *slog.Logger
}

func NewUploadDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.ExtractionQueue,
	routing *domain.RoutingTable,
	logger *slog.Logger,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		routing: routing,
		logger:  logger,
	}
}

func (uc *UploadDocumentUseCase) Upload(ctx context.Context, in ports.UploadInput) (*domain.Document, error) {
	if strings.TrimSpace(in.Filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("filename is required"))
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("empty file"))
	}

	// Type routing goes by sniffed content, never by the client's
	// extension or declared content type.
	mimeType := strings.Split(mimetype.Detect(data).String(), ";")[0]
	if !uc.routing.Accepts(mimeType) {
		return nil, domain.WrapError(domain.ErrUnsupportedType, "validate upload", fmt.Errorf("mime type %s", mimeType))
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if existing, err := uc.repo.GetByChecksum(ctx, checksum); err == nil {
		return existing, &domain.DuplicateContentError{ExistingID: existing.ID}
	} else if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, fmt.Errorf("check duplicate checksum: %w", err)
	}

	storagePath, err := uc.storage.Save(ctx, in.Filename, data)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename))
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		Checksum:       checksum,
		Title:          title,
		Filename:       filepath.Base(in.Filename),
		StoragePath:    storagePath,
		SizeBytes:      int64(len(data)),
		MimeType:       mimeType,
		TextStatus:     initialTrackStatus(uc.routing, mimeType, domain.TrackText),
		OCRStatus:      initialTrackStatus(uc.routing, mimeType, domain.TrackOCR),
		IndexingStatus: domain.IndexingNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		// Lost a concurrent-upload race: the other row wins, this copy
		// of the file is redundant.
		var dup *domain.DuplicateContentError
		if errors.As(err, &dup) {
			if removeErr := uc.storage.Remove(ctx, storagePath); removeErr != nil {
				uc.logger.Warn("remove redundant upload copy", "path", storagePath, "error", removeErr)
			}
			existing, lookupErr := uc.repo.GetByID(ctx, dup.ExistingID)
			if lookupErr != nil {
				return nil, err
			}
			return existing, err
		}
		return nil, fmt.Errorf("create document record: %w", err)
	}

	uc.dispatchTracks(ctx, doc)
	return doc, nil
}

// dispatchTracks publishes one job per applicable track. Dispatch is
// best-effort: a failed publish leaves the track pending, where the
// extract-pending sweep picks it up.
func (uc *UploadDocumentUseCase) dispatchTracks(ctx context.Context, doc *domain.Document) {
	for _, track := range []domain.Track{domain.TrackText, domain.TrackOCR} {
		if doc.StatusOf(track) != domain.StatusPending {
			continue
		}
		job := domain.ExtractionJob{DocumentID: doc.ID, Track: track, RequestedAt: time.Now().UTC()}
		if err := uc.queue.PublishExtractionJob(ctx, job); err != nil {
			uc.logger.Warn("extraction dispatch failed",
				"document_id", doc.ID,
				"track", track,
				"error", err,
			)
		}
	}
}

func initialTrackStatus(routing *domain.RoutingTable, mimeType string, track domain.Track) domain.TrackStatus {
	if routing.TrackFor(mimeType, track) {
		return domain.StatusPending
	}
	return domain.StatusUnsupported
}
