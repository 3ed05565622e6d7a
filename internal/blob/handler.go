package blob

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Handler serves blobs from a store under the given URL prefix. It is what
// FSStore URLs point at.
func Handler(prefix string, store Store) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		handle := strings.TrimPrefix(r.URL.Path, prefix)
		if handle == r.URL.Path || !validHandle(handle) {
			http.NotFound(w, r)
			return
		}

		data, err := store.Download(r.Context(), handle)
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			log.WithError(err).WithField("handle", handle).Error("blob_download_failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		contentType := mime.TypeByExtension(path.Ext(handle))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		_, _ = w.Write(data)
	})
}
