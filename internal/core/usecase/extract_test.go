package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

func newExtractUC(
	repo *repoFake,
	storage *storageFake,
	extractor *textExtractorFake,
	providers ...*ocrProviderFake,
) (*ExtractTrackUseCase, *searchIndexFake, *vectorIndexFake) {
	searchIndex := &searchIndexFake{}
	vectorIndex := newVectorIndexFake()
	indexer := NewIndexDocumentUseCase(repo, searchIndex, vectorIndex, &embedderFake{vector: []float32{0.1}}, testLogger())

	ocr := make([]ports.OCRProvider, 0, len(providers))
	for _, p := range providers {
		ocr = append(ocr, p)
	}

	uc := NewExtractTrackUseCase(
		repo,
		storage,
		extractor,
		ocr,
		indexer,
		domain.DefaultRoutingTable(),
		0.5,
		testLogger(),
	)
	return uc, searchIndex, vectorIndex
}

func textDoc(repo *repoFake, storage *storageFake, content string) *domain.Document {
	path, _ := storage.Save(context.Background(), "doc.txt", []byte(content))
	return repo.add(&domain.Document{
		MimeType:    "text/plain",
		StoragePath: path,
		Filename:    "doc.txt",
		Title:       "doc",
		TextStatus:  domain.StatusPending,
		OCRStatus:   domain.StatusUnsupported,
	})
}

func imageDoc(repo *repoFake, storage *storageFake) *domain.Document {
	path, _ := storage.Save(context.Background(), "scan.png", []byte("PNGDATA"))
	return repo.add(&domain.Document{
		MimeType:    "image/png",
		StoragePath: path,
		Filename:    "scan.png",
		Title:       "scan",
		TextStatus:  domain.StatusUnsupported,
		OCRStatus:   domain.StatusPending,
	})
}

func TestProcessTextTrackCompletesAndIndexes(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	extractor := &textExtractorFake{text: "extracted content", meta: map[string]any{"pages": 2}}
	uc, searchIndex, vectorIndex := newExtractUC(repo, storage, extractor)
	doc := textDoc(repo, storage, "raw bytes")

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackText); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}

	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.TextStatus != domain.StatusCompleted {
		t.Fatalf("expected completed text track, got %s", updated.TextStatus)
	}
	if updated.ExtractedText != "extracted content" {
		t.Fatalf("unexpected extracted text %q", updated.ExtractedText)
	}
	if updated.ExtractedTextPath == "" {
		t.Fatalf("expected derived text artifact path")
	}
	if len(searchIndex.entries) != 1 || searchIndex.entries[0].Content != "extracted content" {
		t.Fatalf("expected full-text index entry, got %+v", searchIndex.entries)
	}
	if _, ok := vectorIndex.indexed[doc.ID]; !ok {
		t.Fatalf("expected vector index entry")
	}
	if repo.indexing[doc.ID] != domain.IndexingDone {
		t.Fatalf("expected indexing done, got %s", repo.indexing[doc.ID])
	}
}

func TestProcessTrackServiceOutageFailsTrackForRetry(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	extractor := &textExtractorFake{err: domain.WrapError(domain.ErrServiceUnavailable, "tika", errors.New("connection refused"))}
	uc, _, _ := newExtractUC(repo, storage, extractor)
	doc := textDoc(repo, storage, "raw")

	err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackText)
	if !domain.IsKind(err, domain.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.TextStatus != domain.StatusFailed {
		t.Fatalf("expected failed track for later retry, got %s", updated.TextStatus)
	}
	if updated.ExtractionError == "" {
		t.Fatalf("expected recorded failure reason")
	}
}

func TestProcessTrackClaimRejectionIsNotAnError(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{text: "x"})
	doc := textDoc(repo, storage, "raw")
	doc.TextStatus = domain.StatusProcessing

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackText); err != nil {
		t.Fatalf("expected rejected claim to coalesce, got %v", err)
	}
	if len(repo.completed) != 0 {
		t.Fatalf("expected no completion, got %+v", repo.completed)
	}
}

func TestProcessTrackWrongTrackMarksUnsupported(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{text: "x"})
	doc := textDoc(repo, storage, "raw")
	doc.OCRStatus = domain.StatusPending

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackOCR); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}
	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.OCRStatus != domain.StatusUnsupported {
		t.Fatalf("expected unsupported ocr track for text document, got %s", updated.OCRStatus)
	}
}

func TestProcessOCRAcceptsFirstConfidentProvider(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	tesseract := &ocrProviderFake{name: "tesseract", result: domain.OCRResult{Text: "scanned text", Confidence: 0.8, Engine: "tesseract"}}
	mistral := &ocrProviderFake{name: "mistral", result: domain.OCRResult{Text: "unused", Confidence: 0.9, Engine: "mistral"}}
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{}, tesseract, mistral)
	doc := imageDoc(repo, storage)

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackOCR); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}

	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.OCRStatus != domain.StatusCompleted || updated.OCRText != "scanned text" {
		t.Fatalf("unexpected ocr state %s/%q", updated.OCRStatus, updated.OCRText)
	}
	if mistral.calls != 0 {
		t.Fatalf("expected no fallback call, got %d", mistral.calls)
	}
}

func TestProcessOCRFallsBackOnLowConfidence(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	tesseract := &ocrProviderFake{name: "tesseract", result: domain.OCRResult{Text: "garbl", Confidence: 0.2, Engine: "tesseract"}}
	mistral := &ocrProviderFake{name: "mistral", result: domain.OCRResult{Text: "clean scan", Confidence: 0.85, Engine: "mistral"}}
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{}, tesseract, mistral)
	doc := imageDoc(repo, storage)

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackOCR); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}

	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.OCRText != "clean scan" || updated.OCRConfidence != 0.85 {
		t.Fatalf("expected fallback result, got %q/%f", updated.OCRText, updated.OCRConfidence)
	}
	if tesseract.calls != 1 || mistral.calls != 1 {
		t.Fatalf("expected cascade order, got %d/%d", tesseract.calls, mistral.calls)
	}
}

func TestProcessOCRLastProviderAcceptedBelowThreshold(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	tesseract := &ocrProviderFake{name: "tesseract", err: errors.New("boom")}
	mistral := &ocrProviderFake{name: "mistral", result: domain.OCRResult{Text: "faint text", Confidence: 0.3, Engine: "mistral"}}
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{}, tesseract, mistral)
	doc := imageDoc(repo, storage)

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackOCR); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}
	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.OCRText != "faint text" {
		t.Fatalf("expected last provider output accepted, got %q", updated.OCRText)
	}
}

func TestProcessOCRAllProvidersFail(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	tesseract := &ocrProviderFake{name: "tesseract", err: errors.New("bad image")}
	mistral := &ocrProviderFake{name: "mistral", err: errors.New("bad image too")}
	uc, _, _ := newExtractUC(repo, storage, &textExtractorFake{}, tesseract, mistral)
	doc := imageDoc(repo, storage)

	err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackOCR)
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected ErrExtractionFailed, got %v", err)
	}
	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.OCRStatus != domain.StatusFailed {
		t.Fatalf("expected failed ocr track, got %s", updated.OCRStatus)
	}
}

func TestProcessTrackIndexOutageDoesNotFailExtraction(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	extractor := &textExtractorFake{text: "content"}
	searchIndex := &searchIndexFake{indexErr: errors.New("meilisearch down")}
	indexer := NewIndexDocumentUseCase(repo, searchIndex, newVectorIndexFake(), &embedderFake{vector: []float32{0.1}}, testLogger())
	uc := NewExtractTrackUseCase(repo, storage, extractor, nil, indexer, domain.DefaultRoutingTable(), 0.5, testLogger())
	doc := textDoc(repo, storage, "raw")

	if err := uc.ProcessTrack(context.Background(), doc.ID, domain.TrackText); err != nil {
		t.Fatalf("ProcessTrack() error = %v", err)
	}
	updated, _ := repo.GetByID(context.Background(), doc.ID)
	if updated.TextStatus != domain.StatusCompleted {
		t.Fatalf("expected completed track despite index outage, got %s", updated.TextStatus)
	}
	if repo.indexing[doc.ID] != domain.IndexingFailed {
		t.Fatalf("expected indexing failed status, got %s", repo.indexing[doc.ID])
	}
}
