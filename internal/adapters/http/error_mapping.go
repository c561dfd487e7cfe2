package httpadapter

import (
	"errors"
	"net/http"

	"github.com/avolkov/docvault/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrDuplicateContent):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTransitionRejected):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the mapped status and error body. Duplicate-content
// responses carry the id of the document that already owns the checksum.
func writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)

	payload := map[string]any{"error": err.Error()}
	var dup *domain.DuplicateContentError
	if errors.As(err, &dup) {
		payload["existing_id"] = dup.ExistingID
	}

	writeJSON(w, status, payload)
}
