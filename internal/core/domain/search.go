package domain

// Search modes accepted by the search facade.
const (
	SearchModeStructured = "structured"
	SearchModeNatural    = "natural"
	SearchModeSemantic   = "semantic"
	SearchModeKeyword    = "keyword"
)

// SearchRequest is the facade input: either a structured query (free
// text, field filters, boolean operators, quoted phrases, grouping) or a
// natural-language question. FallbackToKeyword opts in to degrading a
// failed natural-language rewrite to a verbatim keyword search instead of
// returning an error.
type SearchRequest struct {
	Query             string   `json:"query"`
	Mode              string   `json:"mode,omitempty"`
	FallbackToKeyword bool     `json:"fallback_to_keyword,omitempty"`
	Facets            []string `json:"facets,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	Offset            int      `json:"offset,omitempty"`
}

// SearchHit is one merged result row.
type SearchHit struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Filename string  `json:"filename"`
	MimeType string  `json:"mime_type"`
	Snippet  string  `json:"snippet,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// SearchResult carries merged hits plus per-field facet counts.
// SearchType records which strategy actually served the request, so a
// degraded natural-language query reports "keyword".
type SearchResult struct {
	SearchType     string                      `json:"search_type"`
	Hits           []SearchHit                 `json:"hits"`
	EstimatedTotal int64                       `json:"estimated_total"`
	Facets         map[string]map[string]int64 `json:"facets,omitempty"`
	Warning        string                      `json:"warning,omitempty"`
}

// TextSearchHit is a row of the extracted-text substring search used by
// the extraction API.
type TextSearchHit struct {
	ID                   int64       `json:"id"`
	Title                string      `json:"title"`
	Filename             string      `json:"filename"`
	MimeType             string      `json:"mime_type"`
	TextStatus           TrackStatus `json:"text_extraction_status"`
	OCRStatus            TrackStatus `json:"ocr_status"`
	ExtractedTextPreview string      `json:"extracted_text_preview,omitempty"`
	OCRTextPreview       string      `json:"ocr_text_preview,omitempty"`
}

// Export limits. Export streams results and stops at whichever bound is
// hit first; the HTTP deadline is enforced by the handler.
const (
	DefaultExportMaxRecords = 10000
	DefaultExportMaxBytes   = 100 << 20
	DefaultExportTimeoutSec = 60
)

// ExportRequest selects the result set and output shape of a search
// export. Fields defaults to a standard column set when empty.
type ExportRequest struct {
	Search SearchRequest `json:"search"`
	Format string        `json:"format"`
	Fields []string      `json:"fields,omitempty"`
}

// IndexEntry is the payload pushed into the full-text index once a track
// completes.
type IndexEntry struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Filename string   `json:"filename"`
	MimeType string   `json:"mime_type"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

// IndexQuery is the compiled full-text engine query.
type IndexQuery struct {
	Query  string
	Filter string
	Facets []string
	Limit  int
	Offset int
}

// IndexPage is one page of full-text engine results.
type IndexPage struct {
	Hits           []SearchHit
	EstimatedTotal int64
	Facets         map[string]map[string]int64
}

// VectorHit is one semantic search result.
type VectorHit struct {
	DocumentID int64
	Score      float64
	Payload    map[string]any
}
