package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURI(t *testing.T) {
	valid := imageBase64(90)

	t.Run("valid", func(t *testing.T) {
		p, err := decodeDataURI("data:image/jpeg;base64," + valid)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", p.mimeType)
		assert.Len(t, p.data, 90)
	})

	t.Run("missing media type", func(t *testing.T) {
		p, err := decodeDataURI("data:;base64," + valid)
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", p.mimeType)
	})

	t.Run("correct padding accepted", func(t *testing.T) {
		_, err := decodeDataURI("data:image/png;base64," + imageBase64(91))
		assert.NoError(t, err)
	})

	tests := []struct {
		name string
		src  string
		err  error
	}{
		{"short", "data:image/png;base64,AAAA", ErrPayloadTooShort},
		{"invalid characters", "data:image/png;base64," + strings.Repeat("A!", 60), ErrBadCharset},
		{"length not multiple of four", "data:image/png;base64," + valid + "A", ErrBadPadding},
		{"padding in the middle", "data:image/png;base64,AA==" + valid, ErrBadPadding},
		{"not base64", "data:text/plain," + valid, ErrNotBase64},
		{"no comma", "data:image/png;base64", ErrNotBase64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDataURI(tt.src)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNormalizeContentID(t *testing.T) {
	for _, in := range []string{"cid:part1@x", "<part1@x>", "CID:<PART1@X>", "cid:%3Cpart1@x%3E", " part1@x "} {
		assert.Equal(t, "part1@x", NormalizeContentID(in), in)
	}
}

func TestNeedsRepair(t *testing.T) {
	assert.True(t, NeedsRepair(`<img src="data:image/png;base64,AAAA">`))
	assert.True(t, NeedsRepair(`<span class="inline-media-missing">[image: x]</span>`))
	assert.True(t, NeedsRepair(`<img src="cid:abc">`))
	assert.False(t, NeedsRepair(`<img src="https://cdn/x.png">`))
	assert.False(t, NeedsRepair(`<p>plain</p>`))
}
