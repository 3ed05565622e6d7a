package media

import (
	"encoding/base64"
	"errors"
	"mime"
	"net/url"
	"strings"
)

// MinBase64Length is the shortest base64 body accepted as a real image.
// Anything shorter is almost always the stub left by a truncated body.
const MinBase64Length = 100

var (
	ErrNotBase64       = errors.New("data URI is not base64 encoded")
	ErrPayloadTooShort = errors.New("base64 payload too short")
	ErrBadCharset      = errors.New("base64 payload has invalid characters")
	ErrBadPadding      = errors.New("base64 payload has invalid length or padding")
)

type payload struct {
	data     []byte
	mimeType string
	filename string
	cid      string
	inline   bool
}

// decodeDataURI validates and decodes a data: URI. Line breaks and spaces
// inside the payload are tolerated because mail bodies are often wrapped.
func decodeDataURI(src string) (payload, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 || !strings.HasPrefix(strings.ToLower(src), "data:") {
		return payload{}, ErrNotBase64
	}
	meta := strings.ToLower(strings.TrimSpace(src[len("data:"):comma]))
	parts := strings.Split(meta, ";")
	if parts[len(parts)-1] != "base64" {
		return payload{}, ErrNotBase64
	}
	mimeType := strings.TrimSpace(parts[0])
	if mimeType == "" || mimeType == "base64" {
		mimeType = "application/octet-stream"
	}

	body := stripSpace(src[comma+1:])
	if len(body) < MinBase64Length {
		return payload{}, ErrPayloadTooShort
	}
	if err := checkBase64(body); err != nil {
		return payload{}, err
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return payload{}, ErrBadPadding
	}
	return payload{data: data, mimeType: mimeType, inline: true}, nil
}

func stripSpace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func checkBase64(body string) error {
	if len(body)%4 != 0 {
		return ErrBadPadding
	}
	pad := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '=':
			pad++
		case pad > 0:
			return ErrBadPadding
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
		default:
			return ErrBadCharset
		}
	}
	if pad > 2 {
		return ErrBadPadding
	}
	return nil
}

// NormalizeContentID reduces "cid:<Foo@Bar>", "<foo@bar>" and url-escaped
// variants to one lookup key.
func NormalizeContentID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 4 && strings.EqualFold(id[:4], "cid:") {
		id = id[4:]
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
