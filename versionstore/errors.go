package versionstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexjoedt/blobvault/objectid"
)

var (
	ErrNotFound           = errors.New("file not found")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrPartialDelete      = errors.New("partial delete")
)

// PartialDeleteError reports a delete where the content store and the
// metadata store disagree afterwards. The orphans are left in place; Orphans
// reports them.
type PartialDeleteError struct {
	IDs         []objectid.ID
	ContentErr  error // nil if content deletion succeeded
	MetadataErr error // nil if metadata deletion succeeded or was not attempted
	Removed     int64 // metadata records removed
}

func (e *PartialDeleteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "partial delete of %d version(s)", len(e.IDs))
	if e.ContentErr != nil {
		fmt.Fprintf(&b, ": content: %v", e.ContentErr)
	}
	if e.MetadataErr != nil {
		fmt.Fprintf(&b, ": metadata: %v", e.MetadataErr)
	}
	return b.String()
}

func (e *PartialDeleteError) Is(target error) bool {
	return target == ErrPartialDelete
}

func (e *PartialDeleteError) Unwrap() []error {
	var errs []error
	if e.ContentErr != nil {
		errs = append(errs, e.ContentErr)
	}
	if e.MetadataErr != nil {
		errs = append(errs, e.MetadataErr)
	}
	return errs
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
