// Package media moves inline payloads out of message bodies into blob
// storage and rewrites the body to reference them.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/deskline/mailsync/internal/blob"
	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultUploadConcurrency bounds parallel uploads for one message.
	DefaultUploadConcurrency = 3
	// DefaultMaxSrcBytes caps how far the scanner looks for a closing quote.
	DefaultMaxSrcBytes = 16 << 20

	placeholderClass = "inline-media-missing"
)

type Extractor struct {
	store       blob.Store
	concurrency int
	maxSrcBytes int
	known       Known
}

// Known maps content hashes to blobs a message already owns.
type Known map[string]models.Attachment

// KnownAttachments indexes stored attachments by content hash.
func KnownAttachments(atts []models.Attachment) Known {
	known := make(Known, len(atts))
	for _, a := range atts {
		if a.ContentHash != "" && a.Handle != "" {
			known[a.ContentHash] = a
		}
	}
	return known
}

func NewExtractor(store blob.Store) *Extractor {
	return &Extractor{store: store, concurrency: DefaultUploadConcurrency, maxSrcBytes: DefaultMaxSrcBytes}
}

// Reusing returns a copy of e that hands out the stored blob for any payload
// whose hash is in known instead of uploading it again.
func (e *Extractor) Reusing(known Known) *Extractor {
	cp := *e
	cp.known = known
	return &cp
}

// WithConcurrency overrides the upload concurrency.
func (e *Extractor) WithConcurrency(n int) *Extractor {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

type tagAction int

const (
	keepTag tagAction = iota
	rewriteTag
	placeholderTag
)

type upload struct {
	p    payload
	hash string
	obj  blob.Object
	err  error
}

// Process externalizes every data: and cid: payload referenced by an <img> or
// <video> tag. It never fails: corrupt or unresolvable payloads become a
// placeholder carrying the alt text, and tags whose upload failed are left
// untouched so a later repair can retry them.
func (e *Extractor) Process(ctx context.Context, body, messageID string, inline []models.RawAttachment) (string, []models.UploadedAsset) {
	tags := scanMediaTags(body, e.maxSrcBytes)
	if len(tags) == 0 {
		return stripOrphans(body), nil
	}

	byCID := make(map[string]models.RawAttachment, len(inline))
	for _, att := range inline {
		if key := NormalizeContentID(att.ContentID); key != "" {
			byCID[key] = att
		}
	}

	entry := log.WithField("message_id", messageID)
	actions := make([]tagAction, len(tags))
	uploadOf := make([]int, len(tags))
	var uploads []*upload
	byHash := make(map[string]int)

	for i, tag := range tags {
		src := strings.TrimSpace(tag.src)
		lower := strings.ToLower(src)

		var p payload
		var err error
		switch {
		case tag.broken:
			actions[i] = placeholderTag
			continue
		case strings.HasPrefix(lower, "data:"):
			p, err = decodeDataURI(src)
			if err != nil {
				entry.WithError(err).WithField("tag", tag.name).Debug("inline_payload_corrupt")
				actions[i] = placeholderTag
				continue
			}
			p.filename = fmt.Sprintf("inline-%d%s", i+1, extensionFor(p.mimeType))
		case strings.HasPrefix(lower, "cid:"):
			att, ok := byCID[NormalizeContentID(src)]
			if !ok || len(att.Data) == 0 {
				entry.WithField("cid", src).Debug("inline_cid_unresolved")
				actions[i] = placeholderTag
				continue
			}
			p = payload{data: att.Data, mimeType: att.ContentType, filename: att.Filename, cid: NormalizeContentID(att.ContentID), inline: true}
			if p.mimeType == "" {
				p.mimeType = "application/octet-stream"
			}
			if p.filename == "" {
				p.filename = fmt.Sprintf("inline-%d%s", i+1, extensionFor(p.mimeType))
			}
		default:
			actions[i] = keepTag
			continue
		}

		hash := contentHash(p.data)
		k, seen := byHash[hash]
		if !seen {
			k = len(uploads)
			byHash[hash] = k
			uploads = append(uploads, &upload{p: p, hash: hash})
		}
		actions[i] = rewriteTag
		uploadOf[i] = k
	}

	e.uploadAll(ctx, messageID, uploads)

	var b strings.Builder
	b.Grow(len(body))
	cursor := 0
	for i, tag := range tags {
		b.WriteString(body[cursor:tag.start])
		switch actions[i] {
		case keepTag:
			b.WriteString(body[tag.start:tag.end])
		case placeholderTag:
			b.WriteString(placeholder(tag))
		case rewriteTag:
			u := uploads[uploadOf[i]]
			if u.err != nil {
				b.WriteString(body[tag.start:tag.end])
				break
			}
			b.WriteString(body[tag.start:tag.srcStart])
			b.WriteString(html.EscapeString(u.obj.URL))
			b.WriteString(body[tag.srcEnd:tag.end])
		}
		cursor = tag.end
	}
	b.WriteString(body[cursor:])

	var assets []models.UploadedAsset
	for _, u := range uploads {
		if u.err != nil {
			entry.WithError(u.err).WithField("filename", u.p.filename).Warn("inline_upload_failed")
			continue
		}
		assets = append(assets, asset(u))
	}
	return stripOrphans(b.String()), assets
}

// ProcessAttachments uploads regular (non-inline) attachments. Failed
// uploads are logged and skipped.
func (e *Extractor) ProcessAttachments(ctx context.Context, messageID string, atts []models.RawAttachment) []models.UploadedAsset {
	var uploads []*upload
	seen := make(map[string]bool)
	for _, att := range atts {
		if att.Inline || len(att.Data) == 0 {
			continue
		}
		hash := contentHash(att.Data)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		mimeType := att.ContentType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		name := att.Filename
		if name == "" {
			name = "attachment" + extensionFor(mimeType)
		}
		uploads = append(uploads, &upload{p: payload{data: att.Data, mimeType: mimeType, filename: name}, hash: hash})
	}

	e.uploadAll(ctx, messageID, uploads)

	var assets []models.UploadedAsset
	for _, u := range uploads {
		if u.err != nil {
			log.WithError(u.err).WithFields(log.Fields{"message_id": messageID, "filename": u.p.filename}).Warn("attachment_upload_failed")
			continue
		}
		assets = append(assets, asset(u))
	}
	return assets
}

func (e *Extractor) uploadAll(ctx context.Context, ownerID string, uploads []*upload) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, u := range uploads {
		if prior, ok := e.known[u.hash]; ok {
			u.obj = blob.Object{Handle: prior.Handle, URL: prior.URL}
			continue
		}
		g.Go(func() error {
			u.obj, u.err = e.store.Upload(ctx, u.p.data, u.p.filename, u.p.mimeType, ownerID)
			return nil
		})
	}
	_ = g.Wait()
}

// Discard deletes blobs this extractor uploaded for assets that never made it
// into the store. Reused blobs are left alone.
func (e *Extractor) Discard(ctx context.Context, assets []models.UploadedAsset) {
	for _, a := range assets {
		if _, ok := e.known[a.ContentHash]; ok || a.Handle == "" {
			continue
		}
		if err := e.store.Delete(ctx, a.Handle); err != nil && !errors.Is(err, blob.ErrNotFound) {
			log.WithError(err).WithField("handle", a.Handle).Warn("blob_discard_failed")
		}
	}
}

// NeedsRepair reports whether a stored body still carries payloads that were
// never externalized.
func NeedsRepair(body string) bool {
	return strings.Contains(body, placeholderClass) || HasPendingPayload(body)
}

// HasPendingPayload reports whether a media tag still points at a data: or
// cid: payload.
func HasPendingPayload(body string) bool {
	for _, tag := range scanMediaTags(body, DefaultMaxSrcBytes) {
		src := strings.ToLower(strings.TrimSpace(tag.src))
		if tag.broken || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "cid:") {
			return true
		}
	}
	return false
}

func placeholder(tag mediaTag) string {
	alt := strings.TrimSpace(html.UnescapeString(tag.alt))
	if alt == "" {
		return ""
	}
	kind := "image"
	if tag.name == "video" {
		kind = "video"
	}
	return `<span class="` + placeholderClass + `">[` + kind + `: ` + html.EscapeString(alt) + `]</span>`
}

func asset(u *upload) models.UploadedAsset {
	return models.UploadedAsset{
		Filename:    u.p.filename,
		MimeType:    u.p.mimeType,
		SizeBytes:   int64(len(u.p.data)),
		Handle:      u.obj.Handle,
		URL:         u.obj.URL,
		ContentID:   u.p.cid,
		ContentHash: u.hash,
		IsInline:    u.p.inline,
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
