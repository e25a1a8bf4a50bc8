package blobvault

import (
	"errors"
	"net/http"

	"github.com/alexjoedt/blobvault/versionstore"
)

var (
	ErrNotFound           = versionstore.ErrNotFound
	ErrBackendUnavailable = versionstore.ErrBackendUnavailable
	ErrPartialDelete      = versionstore.ErrPartialDelete

	// ErrInvalidID is returned for a version id that is not a valid object
	// id. It is reported like a missing version.
	ErrInvalidID = errors.New("invalid version id")

	ErrEmptyName   = errors.New("name cannot be empty")
	ErrNameTooLong = errors.New("maximal name length exceeded")
	ErrInvalidName = errors.New("name contains invalid characters")
	ErrNoFiles     = errors.New("no files in container")
)

// StatusCode maps an error returned by a Service to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case versionstore.IsNotFound(err),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrNoFiles):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrNameTooLong),
		errors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
