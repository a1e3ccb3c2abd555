// Package apperr defines the error taxonomy shared by the ingestion and
// analysis pipelines, and maps it onto HTTP responses.
//
// Producers wrap one of the sentinels with context:
//
//	return fmt.Errorf("%w: %s", apperr.ErrUnsupportedFormat, filename)
//
// and boundaries classify with errors.Is.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrNotFound means a referenced patient or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the requesting account does not own the patient.
	ErrForbidden = errors.New("unauthorized access to patient")
	// ErrUnsupportedFormat means the classifier rejected an input file.
	ErrUnsupportedFormat = errors.New("unsupported file type")
	// ErrConversion means decoding or encoding failed inside the converter.
	ErrConversion = errors.New("file processing failed")
	// ErrExtraction means an external analysis collaborator (OCR, risk) failed.
	ErrExtraction = errors.New("text extraction failed")
	// ErrStorage means a durable artifact write or delete failed.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidInput means the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// HTTPStatus maps an error onto the status code returned to API callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrConversion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrExtraction):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable text surfaced to callers. Internal
// errors are not echoed verbatim.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	msg := err.Error()
	// Capitalize like the rest of the API's messages.
	if msg != "" {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return msg
}

// IsClientError reports whether err is attributable to the request rather
// than to the server or one of its collaborators.
func IsClientError(err error) bool {
	s := HTTPStatus(err)
	return s >= 400 && s < 500
}
