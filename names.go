package blobvault

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

const maxNameLength = 1024

// validateName checks a container or file name. Names are opaque labels,
// not paths: any printable text is accepted.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s: %w", kind, ErrEmptyName)
	}

	if len(name) > maxNameLength {
		return fmt.Errorf("%s: %w", kind, ErrNameTooLong)
	}

	if !utf8.ValidString(name) {
		return fmt.Errorf("%s is not valid UTF-8: %w", kind, ErrInvalidName)
	}

	// Control characters would end up in Content-Disposition headers.
	for i, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s has control character %q at position %d: %w", kind, r, i, ErrInvalidName)
		}
	}

	return nil
}
