package textproc

import "strings"

// Excerpt returns at most limit runes of text, cut back to the last word
// boundary so an embedding or preview never ends mid-word. Byte slicing is
// not safe here; extracted text is routinely non-ASCII.
func Excerpt(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return strings.TrimSpace(text)
	}

	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
