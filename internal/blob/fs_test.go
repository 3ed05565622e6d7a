package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir(), "http://localhost:8080/media/")
	require.NoError(t, err)

	t.Run("upload download delete", func(t *testing.T) {
		obj, err := store.Upload(ctx, []byte("png-bytes"), "logo.png", "image/png", "<msg-1@example.com>")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(obj.Handle, "_msg-1_example.com_/"), obj.Handle)
		assert.True(t, strings.HasSuffix(obj.Handle, "-logo.png"), obj.Handle)
		assert.Equal(t, "http://localhost:8080/media/"+obj.Handle, obj.URL)

		data, err := store.Download(ctx, obj.Handle)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)

		require.NoError(t, store.Delete(ctx, obj.Handle))
		_, err = store.Download(ctx, obj.Handle)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, obj.Handle), ErrNotFound)
	})

	t.Run("filename cannot traverse", func(t *testing.T) {
		obj, err := store.Upload(ctx, []byte("x"), "../../etc/passwd", "text/plain", "owner")
		require.NoError(t, err)
		assert.NotContains(t, obj.Handle, "..")
	})

	t.Run("rejects escaping handles", func(t *testing.T) {
		_, err := store.Download(ctx, "../secret")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Download(ctx, "/abs/path")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
