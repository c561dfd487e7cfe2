package usecase

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/avolkov/docvault/internal/core/domain"
)

// exportBatchSize is the page size used when draining the engine.
const exportBatchSize = 500

var defaultExportFields = []string{"id", "title", "filename", "mime_type", "score", "snippet"}

// errExportLimit aborts the streaming loop when a cap is reached; the
// rows already written stay valid output.
var errExportLimit = errors.New("export limit reached")

// ExportLimits bounds a single export run. Zero values fall back to the
// domain defaults.
type ExportLimits struct {
	MaxRecords int
	MaxBytes   int64
}

func (l ExportLimits) normalize() ExportLimits {
	if l.MaxRecords <= 0 {
		l.MaxRecords = domain.DefaultExportMaxRecords
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = domain.DefaultExportMaxBytes
	}
	return l
}

// Export streams the full result set of a search as CSV or JSON and
// returns the number of records written. It stops at the record cap, the
// byte cap, or context expiry, whichever comes first.
func (uc *SearchUseCase) Export(ctx context.Context, req domain.ExportRequest, w io.Writer) (int, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "export", fmt.Errorf("unsupported format %q", req.Format))
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = defaultExportFields
	}
	for _, field := range fields {
		if !validExportField(field) {
			return 0, domain.WrapError(domain.ErrInvalidInput, "export", fmt.Errorf("unknown field %q", field))
		}
	}

	limits := uc.exportLimits.normalize()
	counted := &countingWriter{w: w, remaining: limits.MaxBytes}

	var writer exportWriter
	if format == "csv" {
		writer = newCSVExportWriter(counted, fields)
	} else {
		writer = newJSONExportWriter(counted, fields)
	}

	written, err := uc.streamExport(ctx, req.Search, limits.MaxRecords, writer)
	if err != nil && !errors.Is(err, errExportLimit) {
		return written, err
	}
	if err := writer.Close(); err != nil && !errors.Is(err, errExportLimit) {
		return written, fmt.Errorf("finish export: %w", err)
	}
	return written, nil
}

func (uc *SearchUseCase) streamExport(ctx context.Context, search domain.SearchRequest, maxRecords int, writer exportWriter) (int, error) {
	written := 0
	offset := search.Offset
	for written < maxRecords {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		batch := search
		batch.Limit = exportBatchSize
		if remaining := maxRecords - written; remaining < batch.Limit {
			batch.Limit = remaining
		}
		batch.Offset = offset

		result, err := uc.searchPage(ctx, batch)
		if err != nil {
			return written, err
		}
		if len(result.Hits) == 0 {
			return written, nil
		}

		for _, hit := range result.Hits {
			if err := writer.Write(hit); err != nil {
				return written, err
			}
			written++
			if written >= maxRecords {
				return written, nil
			}
		}
		offset += len(result.Hits)
	}
	return written, nil
}

// searchPage resolves one export page. Exports reuse the structured and
// keyword paths only; semantic ranking has no stable pagination.
func (uc *SearchUseCase) searchPage(ctx context.Context, req domain.SearchRequest) (*domain.SearchResult, error) {
	if req.Mode == "" {
		req.Mode = domain.SearchModeKeyword
	}
	if req.Mode == domain.SearchModeSemantic || req.Mode == domain.SearchModeNatural {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export", fmt.Errorf("mode %q is not exportable", req.Mode))
	}
	return uc.Search(ctx, req)
}

type exportWriter interface {
	Write(hit domain.SearchHit) error
	Close() error
}

type csvExportWriter struct {
	writer      *csv.Writer
	fields      []string
	wroteHeader bool
}

func newCSVExportWriter(w io.Writer, fields []string) *csvExportWriter {
	return &csvExportWriter{writer: csv.NewWriter(w), fields: fields}
}

// Write flushes every record so the byte cap trips between rows, never
// inside one, and rows still buffered when the cap hits are not counted.
func (c *csvExportWriter) Write(hit domain.SearchHit) error {
	if !c.wroteHeader {
		if err := c.writer.Write(c.fields); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	record := make([]string, len(c.fields))
	for i, field := range c.fields {
		record[i] = exportFieldValue(hit, field)
	}
	if err := c.writer.Write(record); err != nil {
		return err
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvExportWriter) Close() error {
	c.writer.Flush()
	return c.writer.Error()
}

type jsonExportWriter struct {
	w          *countingWriter
	fields     []string
	wroteFirst bool
}

func newJSONExportWriter(w *countingWriter, fields []string) *jsonExportWriter {
	return &jsonExportWriter{w: w, fields: fields}
}

// Write emits prefix and record as a single chunk, reserving one byte
// for the closing bracket, so a capped export is always valid JSON.
func (j *jsonExportWriter) Write(hit domain.SearchHit) error {
	prefix := ","
	if !j.wroteFirst {
		prefix = "["
	}

	row := make(map[string]any, len(j.fields))
	for _, field := range j.fields {
		row[field] = exportFieldAny(hit, field)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}

	chunk := append([]byte(prefix), payload...)
	if !j.w.fits(int64(len(chunk)) + 1) {
		return errExportLimit
	}
	if _, err := j.w.Write(chunk); err != nil {
		return err
	}
	j.wroteFirst = true
	return nil
}

func (j *jsonExportWriter) Close() error {
	if !j.wroteFirst {
		_, err := io.WriteString(j.w, "[]")
		return err
	}
	_, err := io.WriteString(j.w, "]")
	return err
}

func validExportField(field string) bool {
	switch field {
	case "id", "title", "filename", "mime_type", "score", "snippet", "tags":
		return true
	default:
		return false
	}
}

// exportFieldValue renders a field for CSV; list fields are joined with
// commas inside the cell.
func exportFieldValue(hit domain.SearchHit, field string) string {
	switch field {
	case "id":
		return strconv.FormatInt(hit.ID, 10)
	case "title":
		return hit.Title
	case "filename":
		return hit.Filename
	case "mime_type":
		return hit.MimeType
	case "score":
		return strconv.FormatFloat(hit.Score, 'f', -1, 64)
	case "snippet":
		return hit.Snippet
	case "tags":
		return strings.Join(hit.Tags, ",")
	default:
		return ""
	}
}

func exportFieldAny(hit domain.SearchHit, field string) any {
	switch field {
	case "id":
		return hit.ID
	case "score":
		return hit.Score
	case "tags":
		return hit.Tags
	default:
		return exportFieldValue(hit, field)
	}
}

// countingWriter enforces the byte cap mid-stream. Chunks are accepted
// or rejected whole, never split.
type countingWriter struct {
	w         io.Writer
	remaining int64
}

func (c *countingWriter) fits(n int64) bool {
	return n <= c.remaining
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if !c.fits(int64(len(p))) {
		return 0, errExportLimit
	}
	n, err := c.w.Write(p)
	c.remaining -= int64(n)
	return n, err
}
