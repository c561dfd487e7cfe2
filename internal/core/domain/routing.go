package domain

// RouteKind says which extraction track a MIME type belongs to.
type RouteKind int

const (
	RouteUnsupported RouteKind = iota
	RouteText
	RouteOCR
)

// RoutingTable maps MIME types to extraction tracks. The zero value is
// unusable; start from DefaultRoutingTable and override via configuration.
type RoutingTable struct {
	DocumentTypes []string `yaml:"document_types"`
	ImageTypes    []string `yaml:"image_types"`

	documents map[string]struct{}
	images    map[string]struct{}
}

// DefaultRoutingTable mirrors the formats the extraction services accept:
// Tika-supported document formats and OCR-supported image formats.
func DefaultRoutingTable() *RoutingTable {
	table := &RoutingTable{
		DocumentTypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"text/plain",
			"text/html",
			"text/xml",
			"text/csv",
			"application/json",
			"application/xml",
			"application/rtf",
			"application/epub+zip",
		},
		ImageTypes: []string{
			"image/jpeg",
			"image/png",
			"image/tiff",
			"image/bmp",
			"image/gif",
			"image/webp",
		},
	}
	table.Rebuild()
	return table
}

// Rebuild refreshes the lookup sets after the exported slices change,
// e.g. after unmarshaling a routing override file.
func (t *RoutingTable) Rebuild() {
	t.documents = make(map[string]struct{}, len(t.DocumentTypes))
	for _, mt := range t.DocumentTypes {
		t.documents[mt] = struct{}{}
	}
	t.images = make(map[string]struct{}, len(t.ImageTypes))
	for _, mt := range t.ImageTypes {
		t.images[mt] = struct{}{}
	}
}

// Classify routes a MIME type to its extraction track.
func (t *RoutingTable) Classify(mimeType string) RouteKind {
	if _, ok := t.documents[mimeType]; ok {
		return RouteText
	}
	if _, ok := t.images[mimeType]; ok {
		return RouteOCR
	}
	return RouteUnsupported
}

// TrackFor reports whether the given track applies to the MIME type.
func (t *RoutingTable) TrackFor(mimeType string, track Track) bool {
	switch t.Classify(mimeType) {
	case RouteText:
		return track == TrackText
	case RouteOCR:
		return track == TrackOCR
	default:
		return false
	}
}

// Accepts reports whether the MIME type is handled by any track. Upload
// validation uses this to reject types nothing can extract.
func (t *RoutingTable) Accepts(mimeType string) bool {
	return t.Classify(mimeType) != RouteUnsupported
}
