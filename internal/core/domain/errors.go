package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateContent   = errors.New("duplicate content")
	ErrUnsupportedType    = errors.New("unsupported type")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrTransitionRejected = errors.New("transition rejected")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// DuplicateContentError carries the identity of the document that already
// owns the uploaded content's checksum, so callers can point at it instead
// of storing a second copy.
type DuplicateContentError struct {
	ExistingID int64
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("content already stored as document %d", e.ExistingID)
}

func (e *DuplicateContentError) Unwrap() error {
	return ErrDuplicateContent
}
