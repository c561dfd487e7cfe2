package domain

import "time"

// FileMetadata is the structured record produced by the metadata
// extractor: core filesystem attributes plus at most one type-specific
// section selected by MIME category. Unknown types carry core attributes
// only.
type FileMetadata struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	Checksum  string `json:"checksum,omitempty"`

	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	AccessedAt time.Time `json:"accessed_at"`

	Permissions string `json:"permissions"`
	Hidden      bool   `json:"hidden"`

	Image       *ImageMetadata       `json:"image,omitempty"`
	PDF         *PDFMetadata         `json:"pdf,omitempty"`
	Text        *TextMetadata        `json:"text,omitempty"`
	Spreadsheet *SpreadsheetMetadata `json:"spreadsheet,omitempty"`
}

type ImageMetadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mode   string `json:"mode"`
	Format string `json:"format"`
}

type PDFMetadata struct {
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	Subject   string `json:"subject,omitempty"`
	PageCount int    `json:"page_count"`
	Encrypted bool   `json:"encrypted"`
}

type TextMetadata struct {
	LineCount int    `json:"line_count"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
	Encoding  string `json:"encoding"`
}

type SpreadsheetMetadata struct {
	SheetCount int      `json:"sheet_count"`
	SheetNames []string `json:"sheet_names"`
	Creator    string   `json:"creator,omitempty"`
}
