package delivery

import (
	"errors"
	"fmt"

	"qqbot/pkg/compose"
	"qqbot/pkg/media"
)

const (
	ErrorUnsupportedSegment  = "unsupported_segment"
	ErrorTransmissionFailure = "transmission_failure"
	ErrorTranscodeFailure    = "transcode_failure"
	ErrorUploadFailure       = "upload_failure"
	ErrorLookupMiss          = "lookup_miss"
)

// Error represents a stable, categorized delivery failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError creates a categorized delivery error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap categorizes err, keeping it reachable through errors.Is/As.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var categorized *Error
	if errors.As(err, &categorized) {
		return err
	}
	return &Error{Category: CategoryFromError(err), Detail: err.Error(), Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	switch {
	case errors.Is(err, compose.ErrUnsupported):
		return ErrorUnsupportedSegment
	case errors.Is(err, media.ErrUpload):
		return ErrorUploadFailure
	case errors.Is(err, media.ErrTranscode):
		return ErrorTranscodeFailure
	}

	return ErrorTransmissionFailure
}
