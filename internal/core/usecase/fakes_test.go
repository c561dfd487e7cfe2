package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/avolkov/docvault/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type trackCall struct {
	id    int64
	track domain.Track
}

type repoFake struct {
	mu sync.Mutex

	docs        map[int64]*domain.Document
	byChecksum  map[string]*domain.Document
	nextID      int64
	createErr   error
	claimErr    error
	completeErr error

	claims      []trackCall
	failures    []trackCall
	failReasons []string
	unsupported []trackCall
	completed   []trackCall
	indexing    map[int64]domain.IndexingStatus
	reprocess   []domain.PendingTrack
	searchHits  []domain.TextSearchHit
	deletedIDs  []int64
}

func newRepoFake() *repoFake {
	return &repoFake{
		docs:       map[int64]*domain.Document{},
		byChecksum: map[string]*domain.Document{},
		indexing:   map[int64]domain.IndexingStatus{},
		nextID:     1,
	}
}

func (f *repoFake) add(doc *domain.Document) *domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == 0 {
		doc.ID = f.nextID
		f.nextID++
	}
	f.docs[doc.ID] = doc
	if doc.Checksum != "" {
		f.byChecksum[doc.Checksum] = doc
	}
	return doc
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	if existing, ok := f.byChecksum[doc.Checksum]; ok {
		f.mu.Unlock()
		return &domain.DuplicateContentError{ExistingID: existing.ID}
	}
	f.mu.Unlock()
	f.add(doc)
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %d", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) GetByChecksum(_ context.Context, checksum string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.byChecksum[checksum]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("checksum %s", checksum))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id %d", id))
	}
	delete(f.docs, id)
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *repoFake) ClaimTrack(_ context.Context, id int64, track domain.Track) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "claim track", fmt.Errorf("id %d", id))
	}
	status := doc.TextStatus
	if track == domain.TrackOCR {
		status = doc.OCRStatus
	}
	if !domain.CanTransition(status, domain.StatusProcessing) {
		return domain.WrapError(domain.ErrTransitionRejected, "claim track", fmt.Errorf("from %s", status))
	}
	if track == domain.TrackOCR {
		doc.OCRStatus = domain.StatusProcessing
	} else {
		doc.TextStatus = domain.StatusProcessing
	}
	f.claims = append(f.claims, trackCall{id: id, track: track})
	return nil
}

func (f *repoFake) CompleteTextTrack(_ context.Context, id int64, text, textPath string, meta map[string]any) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.TextStatus = domain.StatusCompleted
	doc.ExtractedText = text
	doc.ExtractedTextPath = textPath
	doc.ExtractedMetadata = meta
	f.completed = append(f.completed, trackCall{id: id, track: domain.TrackText})
	return nil
}

func (f *repoFake) CompleteOCRTrack(_ context.Context, id int64, text string, confidence float64) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.OCRStatus = domain.StatusCompleted
	doc.OCRText = text
	doc.OCRConfidence = confidence
	f.completed = append(f.completed, trackCall{id: id, track: domain.TrackOCR})
	return nil
}

func (f *repoFake) FailTrack(_ context.Context, id int64, track domain.Track, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		if track == domain.TrackOCR {
			doc.OCRStatus = domain.StatusFailed
		} else {
			doc.TextStatus = domain.StatusFailed
		}
		doc.ExtractionError = reason
	}
	f.failures = append(f.failures, trackCall{id: id, track: track})
	f.failReasons = append(f.failReasons, reason)
	return nil
}

func (f *repoFake) MarkUnsupported(_ context.Context, id int64, track domain.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "mark unsupported", fmt.Errorf("id %d", id))
	}
	status := doc.StatusOf(track)
	if !domain.CanTransition(status, domain.StatusUnsupported) {
		return domain.WrapError(domain.ErrTransitionRejected, "mark unsupported", fmt.Errorf("from %s", status))
	}
	if track == domain.TrackOCR {
		doc.OCRStatus = domain.StatusUnsupported
	} else {
		doc.TextStatus = domain.StatusUnsupported
	}
	f.unsupported = append(f.unsupported, trackCall{id: id, track: track})
	return nil
}

func (f *repoFake) SetIndexingStatus(_ context.Context, id int64, status domain.IndexingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexing[id] = status
	return nil
}

func (f *repoFake) ListReprocessable(context.Context) ([]domain.PendingTrack, error) {
	return f.reprocess, nil
}

func (f *repoFake) FailStuckProcessing(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (f *repoFake) SearchExtractedText(context.Context, string, int, int) ([]domain.TextSearchHit, error) {
	return f.searchHits, nil
}

type storageFake struct {
	saved      map[string][]byte
	saveErr    error
	removed    []string
	derivedErr error
}

func newStorageFake() *storageFake {
	return &storageFake{saved: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, filename string, data []byte) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	path := "2026/01/02/" + filename
	f.saved[path] = data
	return path, nil
}

func (f *storageFake) SaveDerived(_ context.Context, basePath, ext string, data []byte) (string, error) {
	if f.derivedErr != nil {
		return "", f.derivedErr
	}
	path := basePath + ext
	f.saved[path] = data
	return path, nil
}

func (f *storageFake) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	data, ok := f.saved[relPath]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open file", fmt.Errorf("path %s", relPath))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *storageFake) Remove(_ context.Context, relPath string) error {
	delete(f.saved, relPath)
	f.removed = append(f.removed, relPath)
	return nil
}

type queueFake struct {
	mu         sync.Mutex
	published  []domain.ExtractionJob
	publishErr error
}

func (f *queueFake) PublishExtractionJob(_ context.Context, job domain.ExtractionJob) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, job)
	return nil
}

func (f *queueFake) SubscribeExtractionJobs(context.Context, func(context.Context, domain.ExtractionJob) error) error {
	return nil
}

type textExtractorFake struct {
	text string
	meta map[string]any
	err  error
}

func (f *textExtractorFake) ExtractText(context.Context, io.Reader, string) (string, map[string]any, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.text, f.meta, nil
}

type ocrProviderFake struct {
	name   string
	result domain.OCRResult
	err    error
	calls  int
}

func (f *ocrProviderFake) Name() string { return f.name }

func (f *ocrProviderFake) ExtractImageText(context.Context, []byte, string) (domain.OCRResult, error) {
	f.calls++
	if f.err != nil {
		return domain.OCRResult{}, f.err
	}
	return f.result, nil
}

type searchIndexFake struct {
	entries   []domain.IndexEntry
	page      *domain.IndexPage
	pages     []*domain.IndexPage
	searchErr error
	indexErr  error
	queries   []domain.IndexQuery
	deleted   []int64
}

func (f *searchIndexFake) IndexDocument(_ context.Context, entry domain.IndexEntry) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *searchIndexFake) Search(_ context.Context, q domain.IndexQuery) (*domain.IndexPage, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.queries = append(f.queries, q)
	if len(f.pages) > 0 {
		page := f.pages[0]
		f.pages = f.pages[1:]
		return page, nil
	}
	if f.page != nil {
		return f.page, nil
	}
	return &domain.IndexPage{}, nil
}

func (f *searchIndexFake) DeleteDocument(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type vectorIndexFake struct {
	indexed   map[int64][]float32
	hits      []domain.VectorHit
	searchErr error
	deleted   []int64
}

func newVectorIndexFake() *vectorIndexFake {
	return &vectorIndexFake{indexed: map[int64][]float32{}}
}

func (f *vectorIndexFake) IndexDocument(_ context.Context, id int64, vector []float32, _ map[string]any) error {
	f.indexed[id] = vector
	return nil
}

func (f *vectorIndexFake) Search(context.Context, []float32, int) ([]domain.VectorHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *vectorIndexFake) DeleteDocument(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type embedderFake struct {
	vector []float32
	err    error
}

func (f *embedderFake) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type metadataExtractorFake struct {
	meta *domain.FileMetadata
	err  error
}

func (f *metadataExtractorFake) Extract(context.Context, string) (*domain.FileMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}
