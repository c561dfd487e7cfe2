package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
)

type uploaderFake struct {
	doc *domain.Document
	err error
	got ports.UploadInput
}

func (f *uploaderFake) Upload(_ context.Context, in ports.UploadInput) (*domain.Document, error) {
	f.got = in
	if f.err != nil {
		return f.doc, f.err
	}
	return f.doc, nil
}

type readerFake struct {
	doc *domain.Document
}

func (f *readerFake) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("no row"))
	}
	return f.doc, nil
}

type triggerFake struct {
	triggered []int64
	outcomes  []domain.BulkOutcome
	err       error
}

func (f *triggerFake) TriggerDocument(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, id)
	return nil
}

func (f *triggerFake) TriggerPending(context.Context) ([]domain.BulkOutcome, error) {
	return f.outcomes, f.err
}

type searchServiceFake struct {
	result     *domain.SearchResult
	searchErr  error
	textHits   []domain.TextSearchHit
	textQuery  string
	textLimit  int
	exportBody string
	exportErr  error
	gotSearch  domain.SearchRequest
	gotExport  domain.ExportRequest
}

func (f *searchServiceFake) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	f.gotSearch = req
	return f.result, f.searchErr
}

func (f *searchServiceFake) SearchText(_ context.Context, query string, limit, _ int) ([]domain.TextSearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search text", errors.New("empty query"))
	}
	f.textQuery = query
	f.textLimit = limit
	return f.textHits, nil
}

func (f *searchServiceFake) Export(_ context.Context, req domain.ExportRequest, w io.Writer) (int, error) {
	f.gotExport = req
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	_, _ = io.WriteString(w, f.exportBody)
	return strings.Count(f.exportBody, "\n"), nil
}

type inspectorFake struct {
	meta *domain.FileMetadata
	err  error
}

func (f *inspectorFake) Inspect(context.Context, int64) (*domain.FileMetadata, error) {
	return f.meta, f.err
}

type removerFake struct {
	deleted   []int64
	reindexed []int64
	err       error
}

func (f *removerFake) Delete(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *removerFake) Reindex(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.reindexed = append(f.reindexed, id)
	return nil
}

type routerFakes struct {
	uploader  *uploaderFake
	reader    *readerFake
	trigger   *triggerFake
	search    *searchServiceFake
	inspector *inspectorFake
	remover   *removerFake
}

func newTestRouter(fakes routerFakes, mutate func(*Deps)) http.Handler {
	if fakes.uploader == nil {
		fakes.uploader = &uploaderFake{}
	}
	if fakes.reader == nil {
		fakes.reader = &readerFake{}
	}
	if fakes.trigger == nil {
		fakes.trigger = &triggerFake{}
	}
	if fakes.search == nil {
		fakes.search = &searchServiceFake{}
	}
	if fakes.inspector == nil {
		fakes.inspector = &inspectorFake{}
	}
	if fakes.remover == nil {
		fakes.remover = &removerFake{}
	}

	deps := Deps{
		Uploader:  fakes.uploader,
		Documents: fakes.reader,
		Trigger:   fakes.trigger,
		Search:    fakes.search,
		Inspector: fakes.inspector,
		Remover:   fakes.remover,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:   "api-test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewRouter(deps).Handler()
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func TestUploadReturns201WithDocument(t *testing.T) {
	uploader := &uploaderFake{doc: &domain.Document{
		ID:         12,
		Filename:   "report.pdf",
		MimeType:   "application/pdf",
		TextStatus: domain.StatusPending,
		OCRStatus:  domain.StatusUnsupported,
	}}
	handler := newTestRouter(routerFakes{uploader: uploader}, nil)

	body, contentType := multipartUpload(t, "report.pdf", []byte("%PDF-1.7 data"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var doc domain.Document
	if err := json.Unmarshal(res.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.ID != 12 || doc.TextStatus != domain.StatusPending {
		t.Fatalf("unexpected document %+v", doc)
	}
	if uploader.got.Filename != "report.pdf" {
		t.Fatalf("expected forwarded filename, got %q", uploader.got.Filename)
	}
}

func TestUploadDuplicateReturns409WithExistingID(t *testing.T) {
	uploader := &uploaderFake{
		doc: &domain.Document{ID: 3},
		err: &domain.DuplicateContentError{ExistingID: 3},
	}
	handler := newTestRouter(routerFakes{uploader: uploader}, nil)

	body, contentType := multipartUpload(t, "dup.pdf", []byte("same bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["existing_id"] != float64(3) {
		t.Fatalf("expected existing_id in body, got %+v", payload)
	}
}

func TestUploadUnsupportedTypeReturns415(t *testing.T) {
	uploader := &uploaderFake{err: domain.WrapError(domain.ErrUnsupportedType, "upload", errors.New("application/zip"))}
	handler := newTestRouter(routerFakes{uploader: uploader}, nil)

	body, contentType := multipartUpload(t, "archive.zip", []byte("PK..."))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
}

func TestUploadMissingFileFieldReturns422(t *testing.T) {
	handler := newTestRouter(routerFakes{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("title", "no file here")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestUploadBodyTooLargeReturns413(t *testing.T) {
	handler := newTestRouter(routerFakes{}, func(d *Deps) {
		d.MaxUploadBytes = 64
	})

	body, contentType := multipartUpload(t, "big.pdf", bytes.Repeat([]byte("x"), 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestExtractionStatusReturnsTrackState(t *testing.T) {
	reader := &readerFake{doc: &domain.Document{
		ID:             9,
		Filename:       "scan.png",
		MimeType:       "image/png",
		TextStatus:     domain.StatusUnsupported,
		OCRStatus:      domain.StatusCompleted,
		OCRText:        "recognized",
		OCRConfidence:  0.8,
		IndexingStatus: domain.IndexingDone,
	}}
	handler := newTestRouter(routerFakes{reader: reader}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extraction/status/9", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["ocr_status"] != "completed" || payload["text_extraction_status"] != "unsupported" {
		t.Fatalf("unexpected track state %+v", payload)
	}
	if payload["has_text"] != true {
		t.Fatalf("expected has_text true, got %+v", payload["has_text"])
	}
}

func TestExtractionStatusMissingDocumentReturns404(t *testing.T) {
	handler := newTestRouter(routerFakes{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extraction/status/77", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestExtractDocumentQueuesJob(t *testing.T) {
	trigger := &triggerFake{}
	handler := newTestRouter(routerFakes{trigger: trigger}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extraction/extract/5", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(trigger.triggered) != 1 || trigger.triggered[0] != 5 {
		t.Fatalf("expected trigger for document 5, got %+v", trigger.triggered)
	}
}

func TestExtractPendingReportsOutcomes(t *testing.T) {
	trigger := &triggerFake{outcomes: []domain.BulkOutcome{
		{DocumentID: 1, Track: domain.TrackText, Outcome: "dispatched"},
		{DocumentID: 2, Track: domain.TrackOCR, Outcome: "failed", Error: "nats down"},
	}}
	handler := newTestRouter(routerFakes{trigger: trigger}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extraction/extract-pending", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	var payload struct {
		Total      int                  `json:"total"`
		Dispatched int                  `json:"dispatched"`
		Outcomes   []domain.BulkOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 2 || payload.Dispatched != 1 {
		t.Fatalf("unexpected summary %+v", payload)
	}
}

func TestSearchTextForwardsParams(t *testing.T) {
	search := &searchServiceFake{textHits: []domain.TextSearchHit{{ID: 4, Title: "inv"}}}
	handler := newTestRouter(routerFakes{search: search}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extraction/search-text?query=invoice&limit=5", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if search.textQuery != "invoice" || search.textLimit != 5 {
		t.Fatalf("expected forwarded params, got %q/%d", search.textQuery, search.textLimit)
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 1 {
		t.Fatalf("expected count 1, got %d", payload.Count)
	}
}

func TestSearchTextAcceptsShortParamAlias(t *testing.T) {
	search := &searchServiceFake{textHits: []domain.TextSearchHit{{ID: 4}}}
	handler := newTestRouter(routerFakes{search: search}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extraction/search-text?q=invoice", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if search.textQuery != "invoice" {
		t.Fatalf("expected alias forwarded, got %q", search.textQuery)
	}
}

func TestSearchTextEmptyQueryReturns422(t *testing.T) {
	handler := newTestRouter(routerFakes{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extraction/search-text", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestSearchReturnsResultWithMode(t *testing.T) {
	search := &searchServiceFake{result: &domain.SearchResult{
		SearchType:     domain.SearchModeKeyword,
		Hits:           []domain.SearchHit{{ID: 1, Title: "report"}},
		EstimatedTotal: 1,
		Warning:        "natural search degraded to keyword",
	}}
	handler := newTestRouter(routerFakes{search: search}, nil)

	reqBody := `{"query":"quarterly report","fallback_to_keyword":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var result domain.SearchResult
	if err := json.Unmarshal(res.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.SearchType != domain.SearchModeKeyword || result.Warning == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !search.gotSearch.FallbackToKeyword {
		t.Fatalf("expected fallback flag forwarded")
	}
}

func TestSearchInvalidQueryReturns422(t *testing.T) {
	search := &searchServiceFake{searchErr: domain.WrapError(domain.ErrInvalidInput, "search", errors.New("unbalanced parentheses"))}
	handler := newTestRouter(routerFakes{search: search}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"(broken"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestExportStreamsCSVAttachment(t *testing.T) {
	search := &searchServiceFake{exportBody: "id,title\n1,report\n"}
	handler := newTestRouter(routerFakes{search: search}, nil)

	reqBody := `{"search":{"query":"report","mode":"keyword"},"format":"csv"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/export", strings.NewReader(reqBody))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := res.Header().Get("Content-Disposition"); !strings.Contains(got, "export.csv") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if res.Body.String() != "id,title\n1,report\n" {
		t.Fatalf("unexpected body %q", res.Body.String())
	}
}

func TestExportValidationErrorMapsBeforeStreaming(t *testing.T) {
	search := &searchServiceFake{exportErr: domain.WrapError(domain.ErrInvalidInput, "export", errors.New(`unsupported format "xml"`))}
	handler := newTestRouter(routerFakes{search: search}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/export", strings.NewReader(`{"search":{"query":"x"},"format":"xml"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if res.Header().Get("Content-Disposition") != "" {
		t.Fatalf("expected attachment header cleared on error")
	}
}

func TestDeleteDocumentReturns204(t *testing.T) {
	remover := &removerFake{}
	handler := newTestRouter(routerFakes{remover: remover}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/files/8", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(remover.deleted) != 1 || remover.deleted[0] != 8 {
		t.Fatalf("expected delete for document 8, got %+v", remover.deleted)
	}
}

func TestReindexDocument(t *testing.T) {
	remover := &removerFake{}
	handler := newTestRouter(routerFakes{remover: remover}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/8/reindex", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(remover.reindexed) != 1 || remover.reindexed[0] != 8 {
		t.Fatalf("expected reindex for document 8, got %+v", remover.reindexed)
	}
}

func TestDocumentMetadata(t *testing.T) {
	inspector := &inspectorFake{meta: &domain.FileMetadata{Filename: "report.pdf", MimeType: "application/pdf"}}
	handler := newTestRouter(routerFakes{inspector: inspector}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/8/metadata", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var meta domain.FileMetadata
	if err := json.Unmarshal(res.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if meta.Filename != "report.pdf" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestNonNumericIDReturns422(t *testing.T) {
	handler := newTestRouter(routerFakes{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/latest", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
}

func TestUploadLimitsReportAcceptedTypes(t *testing.T) {
	handler := newTestRouter(routerFakes{}, func(d *Deps) {
		d.MaxUploadBytes = 1 << 20
		d.Routing = domain.DefaultRoutingTable()
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/upload", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var payload struct {
		MaxUploadBytes int64    `json:"max_upload_bytes"`
		DocumentTypes  []string `json:"document_types"`
		ImageTypes     []string `json:"image_types"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.MaxUploadBytes != 1<<20 || len(payload.DocumentTypes) == 0 || len(payload.ImageTypes) == 0 {
		t.Fatalf("unexpected limits payload %+v", payload)
	}
}

func TestMetadataAliasRoute(t *testing.T) {
	inspector := &inspectorFake{meta: &domain.FileMetadata{Filename: "scan.png"}}
	handler := newTestRouter(routerFakes{inspector: inspector}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metadata/8", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestHealthzReportsDegradedDependencies(t *testing.T) {
	handler := newTestRouter(routerFakes{}, func(d *Deps) {
		d.Health = func(context.Context) map[string]string {
			return map[string]string{"postgres": "ok", "nats": "disconnected"}
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for degraded dependency, got %d", res.Code)
	}
	var payload struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "degraded" || payload.Components["nats"] != "disconnected" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestExportViaQueryParams(t *testing.T) {
	search := &searchServiceFake{exportBody: "id\n1\n"}
	handler := newTestRouter(routerFakes{search: search}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search/export?q=report&format=csv&fields=id", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if search.gotExport.Search.Query != "report" || search.gotExport.Format != "csv" {
		t.Fatalf("unexpected export request %+v", search.gotExport)
	}
	if len(search.gotExport.Fields) != 1 || search.gotExport.Fields[0] != "id" {
		t.Fatalf("expected parsed fields, got %+v", search.gotExport.Fields)
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	handler := newTestRouter(routerFakes{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}
}
