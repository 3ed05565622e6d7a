package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), "http://localhost/media")
	require.NoError(t, err)
	obj, err := store.Upload(context.Background(), []byte("<svg/>"), "icon.svg", "image/svg+xml", "owner")
	require.NoError(t, err)

	h := Handler("/media", store)

	t.Run("serves stored blob", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media/"+obj.Handle, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "<svg/>", rr.Body.String())
		assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	})

	t.Run("unknown handle", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media/owner/missing.png", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/media/"+obj.Handle, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}
