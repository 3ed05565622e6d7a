// Package blob stores externalized attachment and inline media payloads.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Download and Delete for unknown handles.
var ErrNotFound = errors.New("blob not found")

// Object identifies an uploaded payload.
type Object struct {
	Handle string
	URL    string
}

// Store is the blob storage collaborator. Handles are opaque to callers.
type Store interface {
	Upload(ctx context.Context, data []byte, filename, mimeType, ownerID string) (Object, error)
	Download(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// newHandle builds "<owner>/<uuid>-<filename>" with both parts sanitized so
// the handle is safe as an object key and as a relative file path.
func newHandle(ownerID, filename string) string {
	owner := sanitize(ownerID)
	if owner == "" {
		owner = "unowned"
	}
	name := sanitize(path.Base(filename))
	if name == "" || name == "." {
		name = "blob"
	}
	return owner + "/" + uuid.NewString() + "-" + name
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

// validHandle rejects handles that could escape the store root.
func validHandle(handle string) bool {
	if handle == "" || strings.HasPrefix(handle, "/") || strings.Contains(handle, "..") {
		return false
	}
	return path.Clean(handle) == handle
}
