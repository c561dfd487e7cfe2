package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avolkov/docvault/internal/core/domain"
)

const documentColumns = `
id, checksum, title, filename, storage_path, size_bytes, mime_type, permissions, hidden,
extracted_text, extracted_text_path, extracted_metadata, text_extraction_status,
ocr_text, ocr_confidence, ocr_status, indexing_status, extraction_error,
created_at, updated_at`

// DocumentRepository is the Postgres implementation of the document store.
// Every track mutation is a compare-and-set UPDATE whose WHERE clause only
// matches the legal source statuses of the target, so concurrent writers
// and out-of-order jobs lose cleanly instead of corrupting the row.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	metaJSON, err := json.Marshal(doc.ExtractedMetadata)
	if err != nil {
		return fmt.Errorf("marshal extracted metadata: %w", err)
	}
	if doc.ExtractedMetadata == nil {
		metaJSON = []byte("{}")
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO documents (
	checksum, title, filename, storage_path, size_bytes, mime_type, permissions, hidden,
	extracted_text, extracted_text_path, extracted_metadata, text_extraction_status,
	ocr_text, ocr_confidence, ocr_status, indexing_status, extraction_error,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
RETURNING id
`,
		doc.Checksum, doc.Title, doc.Filename, doc.StoragePath, doc.SizeBytes, doc.MimeType,
		doc.Permissions, doc.Hidden,
		doc.ExtractedText, doc.ExtractedTextPath, metaJSON, string(doc.TextStatus),
		doc.OCRText, doc.OCRConfidence, string(doc.OCRStatus),
		string(doc.IndexingStatus), doc.ExtractionError,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err := row.Scan(&doc.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, lookupErr := r.GetByChecksum(ctx, doc.Checksum)
			if lookupErr == nil {
				return &domain.DuplicateContentError{ExistingID: existing.ID}
			}
			return domain.WrapError(domain.ErrDuplicateContent, "insert document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (r *DocumentRepository) GetByChecksum(ctx context.Context, checksum string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE checksum = $1`, checksum)
	return scanDocument(row)
}

func (r *DocumentRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id %d", id))
	}
	return nil
}

// ClaimTrack is the serialization point of the pipeline. The UPDATE only
// matches rows whose current status may legally move to processing, so of
// two concurrent claims exactly one updates a row and the other gets
// ErrTransitionRejected.
func (r *DocumentRepository) ClaimTrack(ctx context.Context, id int64, track domain.Track) error {
	col := statusColumn(track)
	query := fmt.Sprintf(`
UPDATE documents
SET %s = $2, updated_at = $3
WHERE id = $1 AND %s IN (%s)
`, col, col, sourceList(domain.StatusProcessing))

	return r.casUpdate(ctx, "claim track", query, id, string(domain.StatusProcessing), time.Now().UTC())
}

func (r *DocumentRepository) CompleteTextTrack(ctx context.Context, id int64, text, textPath string, meta map[string]any) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal extracted metadata: %w", err)
	}
	if meta == nil {
		metaJSON = []byte("{}")
	}

	query := fmt.Sprintf(`
UPDATE documents
SET text_extraction_status = $2, extracted_text = $3, extracted_text_path = $4,
    extracted_metadata = $5, extraction_error = '', updated_at = $6
WHERE id = $1 AND text_extraction_status IN (%s)
`, sourceList(domain.StatusCompleted))

	return r.casUpdate(ctx, "complete text track", query,
		id, string(domain.StatusCompleted), text, textPath, metaJSON, time.Now().UTC())
}

func (r *DocumentRepository) CompleteOCRTrack(ctx context.Context, id int64, text string, confidence float64) error {
	query := fmt.Sprintf(`
UPDATE documents
SET ocr_status = $2, ocr_text = $3, ocr_confidence = $4, extraction_error = '', updated_at = $5
WHERE id = $1 AND ocr_status IN (%s)
`, sourceList(domain.StatusCompleted))

	return r.casUpdate(ctx, "complete ocr track", query,
		id, string(domain.StatusCompleted), text, confidence, time.Now().UTC())
}

func (r *DocumentRepository) FailTrack(ctx context.Context, id int64, track domain.Track, reason string) error {
	col := statusColumn(track)
	query := fmt.Sprintf(`
UPDATE documents
SET %s = $2, extraction_error = $3, updated_at = $4
WHERE id = $1 AND %s IN (%s)
`, col, col, sourceList(domain.StatusFailed))

	return r.casUpdate(ctx, "fail track", query, id, string(domain.StatusFailed), reason, time.Now().UTC())
}

func (r *DocumentRepository) MarkUnsupported(ctx context.Context, id int64, track domain.Track) error {
	col := statusColumn(track)
	query := fmt.Sprintf(`
UPDATE documents
SET %s = $2, updated_at = $3
WHERE id = $1 AND %s IN (%s)
`, col, col, sourceList(domain.StatusUnsupported))

	return r.casUpdate(ctx, "mark unsupported", query, id, string(domain.StatusUnsupported), time.Now().UTC())
}

func (r *DocumentRepository) SetIndexingStatus(ctx context.Context, id int64, status domain.IndexingStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET indexing_status = $2, updated_at = $3
WHERE id = $1
`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set indexing status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set indexing status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "set indexing status", fmt.Errorf("id %d", id))
	}
	return nil
}

func (r *DocumentRepository) ListReprocessable(ctx context.Context) ([]domain.PendingTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, text_extraction_status, ocr_status
FROM documents
WHERE text_extraction_status IN ('pending','failed') OR ocr_status IN ('pending','failed')
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list reprocessable: %w", err)
	}
	defer rows.Close()

	var pending []domain.PendingTrack
	for rows.Next() {
		var id int64
		var textStatus, ocrStatus string
		if err := rows.Scan(&id, &textStatus, &ocrStatus); err != nil {
			return nil, fmt.Errorf("scan reprocessable row: %w", err)
		}
		if reprocessable(domain.TrackStatus(textStatus)) {
			pending = append(pending, domain.PendingTrack{DocumentID: id, Track: domain.TrackText})
		}
		if reprocessable(domain.TrackStatus(ocrStatus)) {
			pending = append(pending, domain.PendingTrack{DocumentID: id, Track: domain.TrackOCR})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reprocessable rows: %w", err)
	}
	return pending, nil
}

// FailStuckProcessing is the watchdog sweep. Any track left in processing
// beyond the deadline is moved to failed so extract-pending can retry it.
func (r *DocumentRepository) FailStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var total int64

	for _, col := range []string{"text_extraction_status", "ocr_status"} {
		query := fmt.Sprintf(`
UPDATE documents
SET %s = 'failed', extraction_error = 'processing timeout exceeded', updated_at = $2
WHERE %s = 'processing' AND updated_at < $1
`, col, col)

		res, err := r.db.ExecContext(ctx, query, cutoff, time.Now().UTC())
		if err != nil {
			return total, fmt.Errorf("fail stuck processing: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("fail stuck rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

func (r *DocumentRepository) SearchExtractedText(ctx context.Context, query string, limit, offset int) ([]domain.TextSearchHit, error) {
	pattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, filename, mime_type, text_extraction_status, ocr_status,
       LEFT(extracted_text, 200), LEFT(ocr_text, 200)
FROM documents
WHERE extracted_text ILIKE $1 OR ocr_text ILIKE $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3
`, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search extracted text: %w", err)
	}
	defer rows.Close()

	var hits []domain.TextSearchHit
	for rows.Next() {
		var hit domain.TextSearchHit
		var textStatus, ocrStatus string
		if err := rows.Scan(
			&hit.ID, &hit.Title, &hit.Filename, &hit.MimeType, &textStatus, &ocrStatus,
			&hit.ExtractedTextPreview, &hit.OCRTextPreview,
		); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.TextStatus = domain.TrackStatus(textStatus)
		hit.OCRStatus = domain.TrackStatus(ocrStatus)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}

// casUpdate runs a guarded UPDATE and distinguishes a missing row from a
// rejected transition when nothing matched.
func (r *DocumentRepository) casUpdate(ctx context.Context, op, query string, id int64, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s existence check: %w", op, err)
	}
	if !exists {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id %d", id))
	}
	return domain.WrapError(domain.ErrTransitionRejected, op, fmt.Errorf("document %d", id))
}

func statusColumn(track domain.Track) string {
	if track == domain.TrackOCR {
		return "ocr_status"
	}
	return "text_extraction_status"
}

// sourceList renders the legal source statuses of a target as a SQL
// IN-list. Statuses come from the domain transition table, never from
// caller input.
func sourceList(to domain.TrackStatus) string {
	sources := domain.TransitionSources(to)
	quoted := make([]string, len(sources))
	for i, s := range sources {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ",")
}

func reprocessable(status domain.TrackStatus) bool {
	return status == domain.StatusPending || status == domain.StatusFailed
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	var metaRaw []byte
	var textStatus, ocrStatus, indexing string

	err := row.Scan(
		&doc.ID, &doc.Checksum, &doc.Title, &doc.Filename, &doc.StoragePath, &doc.SizeBytes,
		&doc.MimeType, &doc.Permissions, &doc.Hidden,
		&doc.ExtractedText, &doc.ExtractedTextPath, &metaRaw, &textStatus,
		&doc.OCRText, &doc.OCRConfidence, &ocrStatus, &indexing, &doc.ExtractionError,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.ExtractedMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal extracted metadata: %w", err)
		}
	}
	doc.TextStatus = domain.TrackStatus(textStatus)
	doc.OCRStatus = domain.TrackStatus(ocrStatus)
	doc.IndexingStatus = domain.IndexingStatus(indexing)
	return &doc, nil
}
