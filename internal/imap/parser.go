package imap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/deskline/mailsync/internal/media"
	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
	"github.com/jhillyerd/enmime"
)

func init() {
	// Envelope subjects and names arrive as encoded-words in any charset.
	imap.CharsetReader = charset.Reader
}

// ParseMessage turns a full RFC 5322 buffer into a RawMessage. Bodies over
// media.MaxBodyBytes are truncated with a visible marker; the uncut HTML is
// kept in FullHTML for media extraction.
func ParseMessage(uid uint32, flags []string, r io.Reader) (*models.RawMessage, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %d: %w", uid, err)
	}

	msg := &models.RawMessage{
		UID:     uid,
		Subject: env.GetHeader("Subject"),
		Headers: make(map[string][]string),
		IsRead:  hasFlag(flags, imap.SeenFlag),
	}

	for _, key := range env.GetHeaderKeys() {
		msg.Headers[key] = env.GetHeaderValues(key)
	}

	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromAddress = strings.ToLower(from[0].Address)
		msg.FromName = from[0].Name
	}
	if to, err := env.AddressList("To"); err == nil {
		for _, a := range to {
			msg.ToAddresses = append(msg.ToAddresses, strings.ToLower(a.Address))
			msg.ToNames = append(msg.ToNames, a.Name)
		}
	}
	if cc, err := env.AddressList("Cc"); err == nil {
		for _, a := range cc {
			msg.CCAddresses = append(msg.CCAddresses, strings.ToLower(a.Address))
		}
	}

	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.SentAt = date
	} else {
		msg.SentAt = time.Now()
	}

	msg.MessageID = strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>")
	if msg.MessageID == "" {
		msg.MessageID = syntheticMessageID(msg)
	}

	var cutHTML, cutText bool
	msg.BodyHTML, cutHTML = media.TruncateHTML(env.HTML, media.MaxBodyBytes)
	if cutHTML {
		msg.FullHTML = env.HTML
	}
	msg.BodyText, cutText = media.TruncateText(env.Text, media.MaxBodyBytes)
	msg.Truncated = cutHTML || cutText

	for _, part := range env.Inlines {
		msg.Attachments = append(msg.Attachments, rawAttachment(part, true))
	}
	for _, part := range env.Attachments {
		msg.Attachments = append(msg.Attachments, rawAttachment(part, part.ContentID != "" && part.Disposition != "attachment"))
	}
	for _, part := range env.OtherParts {
		if part.ContentID != "" {
			msg.Attachments = append(msg.Attachments, rawAttachment(part, true))
		}
	}

	return msg, nil
}

func rawAttachment(part *enmime.Part, inline bool) models.RawAttachment {
	return models.RawAttachment{
		Filename:    part.FileName,
		ContentType: part.ContentType,
		ContentID:   part.ContentID,
		Data:        part.Content,
		Inline:      inline,
	}
}

// syntheticMessageID derives a stable id for messages that lack one, so a
// re-fetch deduplicates against the first copy.
func syntheticMessageID(msg *models.RawMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", msg.FromAddress, msg.Subject, msg.SentAt.Unix())
	return "generated-" + hex.EncodeToString(h.Sum(nil))[:24] + syntheticDomain
}

const syntheticDomain = "@mailsync.invalid"

// IsSyntheticID reports whether id was made up by ParseMessage. Such ids
// never show up in a server listing.
func IsSyntheticID(id string) bool {
	return strings.HasSuffix(strings.ToLower(id), syntheticDomain)
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
