package domain

import "time"

// Track identifies one of the two independent extraction pipelines a
// document moves through. The text track covers document formats handled
// by Tika; the OCR track covers images handled by the OCR cascade.
type Track string

const (
	TrackText Track = "text"
	TrackOCR  Track = "ocr"
)

// TrackStatus is the per-track state machine value.
type TrackStatus string

const (
	StatusPending     TrackStatus = "pending"
	StatusProcessing  TrackStatus = "processing"
	StatusCompleted   TrackStatus = "completed"
	StatusFailed      TrackStatus = "failed"
	StatusUnsupported TrackStatus = "unsupported"
)

// IndexingStatus tracks the best-effort downstream indexing of extracted
// text. It never feeds back into the extraction tracks.
type IndexingStatus string

const (
	IndexingNone   IndexingStatus = "none"
	IndexingDone   IndexingStatus = "indexed"
	IndexingFailed IndexingStatus = "failed"
)

// allowedTransitions is the explicit transition table per track.
// pending->unsupported covers routing that never invokes a service;
// failed->processing is the reprocess path used by extract-pending.
var allowedTransitions = map[TrackStatus][]TrackStatus{
	StatusPending:    {StatusProcessing, StatusUnsupported},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether moving a track from one status to another
// is in the allowed-transition table. Completed and unsupported are
// terminal.
func CanTransition(from, to TrackStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which a track may legally
// move to the given target. Repositories use this set to build
// compare-and-set updates, so an out-of-table move never touches the row.
func TransitionSources(to TrackStatus) []TrackStatus {
	var sources []TrackStatus
	for from, targets := range allowedTransitions {
		for _, next := range targets {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// Document is the persisted pipeline record and the single source of
// truth for extraction state.
type Document struct {
	ID       int64  `json:"id"`
	Checksum string `json:"checksum"`

	Title       string `json:"title"`
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path"`
	SizeBytes   int64  `json:"size_bytes"`
	MimeType    string `json:"mime_type"`
	Permissions string `json:"permissions,omitempty"`
	Hidden      bool   `json:"hidden"`

	ExtractedText     string         `json:"extracted_text,omitempty"`
	ExtractedTextPath string         `json:"extracted_text_path,omitempty"`
	ExtractedMetadata map[string]any `json:"extracted_metadata,omitempty"`
	TextStatus        TrackStatus    `json:"text_extraction_status"`

	OCRText       string      `json:"ocr_text,omitempty"`
	OCRConfidence float64     `json:"ocr_confidence,omitempty"`
	OCRStatus     TrackStatus `json:"ocr_status"`

	IndexingStatus  IndexingStatus `json:"indexing_status"`
	ExtractionError string         `json:"extraction_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusOf returns the current status of the given track.
func (d *Document) StatusOf(track Track) TrackStatus {
	if track == TrackOCR {
		return d.OCRStatus
	}
	return d.TextStatus
}

// HasText reports whether any extracted content is available, from either
// track.
func (d *Document) HasText() bool {
	return d.ExtractedText != "" || d.OCRText != ""
}

// SearchableText returns the indexable content of the document, preferring
// the text track output over OCR output.
func (d *Document) SearchableText() string {
	if d.ExtractedText != "" {
		return d.ExtractedText
	}
	return d.OCRText
}

// ExtractionJob is the queue payload dispatched per document+track.
type ExtractionJob struct {
	DocumentID  int64     `json:"document_id"`
	Track       Track     `json:"track"`
	RequestedAt time.Time `json:"requested_at"`
}

// OCRResult is what an OCR provider returns for one image.
type OCRResult struct {
	Text       string
	Confidence float64
	Engine     string
}

// PendingTrack identifies one document track eligible for reprocessing.
type PendingTrack struct {
	DocumentID int64
	Track      Track
}

// BulkOutcome is one entry of the per-document report returned by the
// extract-pending operation. A single document's dispatch failure never
// fails the whole batch.
type BulkOutcome struct {
	DocumentID int64  `json:"document_id"`
	Track      Track  `json:"track"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}
