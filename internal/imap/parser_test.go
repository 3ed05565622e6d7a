package imap

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/deskline/mailsync/internal/media"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "Message-ID: <Reply-1@Example.com>\r\n" +
	"In-Reply-To: <orig@example.com>\r\n" +
	"References: <root@example.com> <orig@example.com>\r\n" +
	"Date: Fri, 15 Mar 2024 10:00:00 +0000\r\n" +
	"From: \"Jane Customer\" <Jane@Customer.test>\r\n" +
	"To: Support <support@desk.test>, ops@desk.test\r\n" +
	"Cc: boss@customer.test\r\n" +
	"Subject: =?UTF-8?B?UmU6IFByaW50ZXIg8J+WqA==?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/related; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>See <img src=\"cid:logo@desk\"></p>\r\n" +
	"--b1\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-ID: <logo@desk>\r\n" +
	"Content-Disposition: inline; filename=\"logo.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==\r\n" +
	"--b1--\r\n"

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(42, []string{imap.SeenFlag}, strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, "Reply-1@Example.com", msg.MessageID)
	assert.Equal(t, "jane@customer.test", msg.FromAddress)
	assert.Equal(t, "Jane Customer", msg.FromName)
	assert.Equal(t, []string{"support@desk.test", "ops@desk.test"}, msg.ToAddresses)
	assert.Equal(t, []string{"boss@customer.test"}, msg.CCAddresses)
	assert.Equal(t, "Re: Printer \U0001F5A8", msg.Subject)
	assert.Equal(t, 2024, msg.SentAt.Year())
	assert.True(t, msg.IsRead)
	assert.Contains(t, msg.BodyHTML, `cid:logo@desk`)
	assert.Equal(t, []string{"<orig@example.com>"}, msg.Headers["In-Reply-To"])

	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.True(t, att.Inline)
	assert.Equal(t, "logo.png", att.Filename)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Contains(t, att.ContentID, "logo@desk")
	assert.NotEmpty(t, att.Data)
	assert.True(t, msg.HasMedia())
}

func TestParseMessageWithoutMessageID(t *testing.T) {
	raw := "From: a@b.test\r\nSubject: hi\r\nDate: Fri, 15 Mar 2024 10:00:00 +0000\r\n\r\nbody\r\n"

	first, err := ParseMessage(1, nil, strings.NewReader(raw))
	require.NoError(t, err)
	second, err := ParseMessage(2, nil, strings.NewReader(raw))
	require.NoError(t, err)

	assert.True(t, IsSyntheticID(first.MessageID))
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.False(t, first.IsRead)
}

func TestParseMessageTruncatesLargeBodies(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, media.MaxBodyBytes))
	raw := "Message-ID: <big@x>\r\nFrom: a@b.test\r\nSubject: big\r\nMIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<p>start</p><img src=\"data:image/png;base64," + payload + "\">\r\n"

	msg, err := ParseMessage(1, nil, strings.NewReader(raw))
	require.NoError(t, err)

	assert.True(t, msg.Truncated)
	assert.LessOrEqual(t, len(msg.BodyHTML), media.MaxBodyBytes)
	assert.True(t, strings.HasSuffix(msg.BodyHTML, media.HTMLTruncationMarker))
	assert.NotContains(t, msg.BodyHTML, "data:image")

	// The uncut HTML still reaches the media phase.
	assert.Contains(t, msg.FullHTML, `<img src="data:image/png;base64,`)
	assert.Equal(t, msg.FullHTML, msg.SourceHTML())
	assert.True(t, msg.HasMedia())
}

func TestParseMessageKeepsSmallBodiesWhole(t *testing.T) {
	msg, err := ParseMessage(1, nil, strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.False(t, msg.Truncated)
	assert.Empty(t, msg.FullHTML)
	assert.Equal(t, msg.BodyHTML, msg.SourceHTML())
}
