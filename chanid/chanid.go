// Package chanid validates upstream channel identifiers and maps them to
// storage keys.
//
// Channel IDs are opaque strings chosen by the upstream service (e.g.
// "UCX6OQ3DkcsbYNE6H8uQQuVA" or "@handle"). The tracker only requires that
// they are printable, free of whitespace and path separators, so that one ID
// maps to exactly one history file and one /data/:id route.
package chanid

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// MaxLen is the longest accepted channel ID in bytes.
const MaxLen = 128

// ErrInvalid is returned for IDs that cannot be tracked.
var ErrInvalid = errors.New("chanid: invalid channel id")

// Normalize trims surrounding whitespace and validates the result.
//
//	"  UCabc " → ("UCabc", nil)
//	"a/b"      → ("", ErrInvalid)
func Normalize(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// Validate reports whether id is usable as-is.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if len(id) > MaxLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalid, MaxLen)
	}
	for _, r := range id {
		switch {
		case r == '/' || r == '\\':
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalid, id)
		case unicode.IsSpace(r) || !unicode.IsPrint(r):
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalid, id)
		}
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return nil
}

const fileExt = ".json"

// FileName returns the history file name for id. Characters that are not
// safe in a file name are percent-escaped so the mapping stays reversible.
func FileName(id string) string {
	return PathSegment(id) + fileExt
}

// PathSegment escapes id for use as one URL path segment.
func PathSegment(id string) string {
	return url.PathEscape(id)
}
