package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avolkov/docvault/internal/core/domain"
	"github.com/avolkov/docvault/internal/core/ports"
	"github.com/avolkov/docvault/internal/observability/metrics"
)

// Deps carries everything the document API needs. Metrics is optional.
type Deps struct {
	Uploader  ports.DocumentUploader
	Documents ports.DocumentReader
	Trigger   ports.ExtractionTrigger
	Search    ports.SearchService
	Inspector ports.MetadataInspector
	Remover   ports.DocumentRemover

	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	// Routing feeds the upload-limits endpoint; Health aggregates
	// dependency probes for /healthz. Both are optional.
	Routing *domain.RoutingTable
	Health  func(ctx context.Context) map[string]string

	Service        string
	MaxUploadBytes int64
	ExportTimeout  time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	OverloadWait   time.Duration
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/api/v1/files/upload", rt.uploadDocument)
	mux.HandleFunc("/api/v1/files/", rt.fileByID)
	mux.HandleFunc("/api/v1/metadata/", rt.documentMetadata)
	mux.HandleFunc("/api/v1/extraction/extract-pending", rt.extractPending)
	mux.HandleFunc("/api/v1/extraction/extract/", rt.extractDocument)
	mux.HandleFunc("/api/v1/extraction/status/", rt.extractionStatus)
	mux.HandleFunc("/api/v1/extraction/search-text", rt.searchText)
	mux.HandleFunc("/api/v1/search", rt.search)
	mux.HandleFunc("/api/v1/search/export", rt.exportSearch)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.deps.MaxInFlight, rt.deps.OverloadWait)
	handler = rateLimitMiddleware(handler, rt.deps.RateLimitRPS, rt.deps.RateLimitBurst)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(rt.deps.Service, handler)
	}
	handler = accessLogMiddleware(rt.deps.Logger, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	components := rt.deps.Health(r.Context())
	status := http.StatusOK
	overall := "ok"
	for _, state := range components {
		if state != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
	})
}

// uploadDocument accepts the multipart upload on POST; GET reports the
// upload limits and the accepted MIME types.
func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		payload := map[string]any{
			"max_upload_bytes": rt.deps.MaxUploadBytes,
		}
		if rt.deps.Routing != nil {
			payload["document_types"] = rt.deps.Routing.DocumentTypes
			payload["image_types"] = rt.deps.Routing.ImageTypes
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if rt.deps.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.deps.MaxUploadBytes)
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		rt.recordUpload("rejected", 0)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "upload exceeds the size limit",
			})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	doc, err := rt.deps.Uploader.Upload(r.Context(), ports.UploadInput{
		Filename: fileHeader.Filename,
		Title:    r.FormValue("title"),
		Body:     file,
	})
	if err != nil {
		outcome := "rejected"
		if domain.IsKind(err, domain.ErrDuplicateContent) {
			outcome = "duplicate"
		}
		rt.recordUpload(outcome, 0)
		writeError(w, err)
		return
	}

	rt.recordUpload("accepted", doc.SizeBytes)
	writeJSON(w, http.StatusCreated, doc)
}

// fileByID serves GET/DELETE on /api/v1/files/{id} plus the
// /metadata and /reindex subresources.
func (rt *Router) fileByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/files/")

	switch {
	case strings.HasSuffix(rest, "/metadata"):
		id, ok := parseID(w, strings.TrimSuffix(rest, "/metadata"))
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		meta, err := rt.deps.Inspector.Inspect(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)

	case strings.HasSuffix(rest, "/reindex"):
		id, ok := parseID(w, strings.TrimSuffix(rest, "/reindex"))
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := rt.deps.Remover.Reindex(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"document_id": id, "status": "reindexed"})

	default:
		id, ok := parseID(w, rest)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet:
			doc, err := rt.deps.Documents.GetByID(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := rt.deps.Remover.Delete(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
	}
}

func (rt *Router) documentMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := parseID(w, strings.TrimPrefix(r.URL.Path, "/api/v1/metadata/"))
	if !ok {
		return
	}

	meta, err := rt.deps.Inspector.Inspect(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (rt *Router) extractDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := parseID(w, strings.TrimPrefix(r.URL.Path, "/api/v1/extraction/extract/"))
	if !ok {
		return
	}

	if err := rt.deps.Trigger.TriggerDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": id,
		"status":      "queued",
	})
}

func (rt *Router) extractPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	outcomes, err := rt.deps.Trigger.TriggerPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	dispatched := 0
	for _, outcome := range outcomes {
		if outcome.Outcome == "dispatched" {
			dispatched++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"total":      len(outcomes),
		"dispatched": dispatched,
		"outcomes":   outcomes,
	})
}

func (rt *Router) extractionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := parseID(w, strings.TrimPrefix(r.URL.Path, "/api/v1/extraction/status/"))
	if !ok {
		return
	}

	doc, err := rt.deps.Documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":            doc.ID,
		"filename":               doc.Filename,
		"mime_type":              doc.MimeType,
		"text_extraction_status": doc.TextStatus,
		"ocr_status":             doc.OCRStatus,
		"indexing_status":        doc.IndexingStatus,
		"ocr_confidence":         doc.OCRConfidence,
		"has_text":               doc.HasText(),
		"extraction_error":       doc.ExtractionError,
		"updated_at":             doc.UpdatedAt,
	})
}

func (rt *Router) searchText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	params := r.URL.Query()
	query := params.Get("query")
	if query == "" {
		query = params.Get("q")
	}
	limit, _ := strconv.Atoi(params.Get("limit"))
	offset, _ := strconv.Atoi(params.Get("offset"))

	hits, err := rt.deps.Search.SearchText(r.Context(), query, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	result, err := rt.deps.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordSearch(rt.deps.Service, result.SearchType, time.Since(start))
	}
	writeJSON(w, http.StatusOK, result)
}

// exportSearch accepts the export request as JSON on POST or as query
// parameters on GET (query, mode, format, fields).
func (rt *Router) exportSearch(w http.ResponseWriter, r *http.Request) {
	var req domain.ExportRequest
	switch r.Method {
	case http.MethodGet:
		params := r.URL.Query()
		query := params.Get("query")
		if query == "" {
			query = params.Get("q")
		}
		req.Search = domain.SearchRequest{
			Query:             query,
			Mode:              params.Get("mode"),
			FallbackToKeyword: params.Get("fallback_to_keyword") == "true",
		}
		req.Format = params.Get("format")
		if fields := params.Get("fields"); fields != "" {
			req.Fields = strings.Split(fields, ",")
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid json"})
			return
		}
	default:
		methodNotAllowed(w)
		return
	}

	ctx := r.Context()
	if rt.deps.ExportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.deps.ExportTimeout)
		defer cancel()
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="export.csv"`)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
	}

	// The stream writer defers the status line until the first body byte,
	// so validation failures inside Export can still map to an error code.
	stream := &deferredWriter{ResponseWriter: w}
	count, err := rt.deps.Search.Export(ctx, req, stream)
	if err != nil {
		if stream.wrote {
			rt.deps.Logger.Error("export aborted mid-stream",
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
			return
		}
		w.Header().Del("Content-Disposition")
		writeError(w, err)
		return
	}
	stream.commit()

	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordExport(rt.deps.Service, format, count, false)
	}
}

type deferredWriter struct {
	http.ResponseWriter
	wrote bool
}

func (d *deferredWriter) Write(b []byte) (int, error) {
	d.wrote = true
	return d.ResponseWriter.Write(b)
}

// commit forces the 200 status for exports that produced no body bytes.
func (d *deferredWriter) commit() {
	if !d.wrote {
		d.ResponseWriter.WriteHeader(http.StatusOK)
	}
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	raw = strings.Trim(raw, "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "document id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) recordUpload(outcome string, size int64) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordUpload(rt.deps.Service, outcome, size)
	}
}
