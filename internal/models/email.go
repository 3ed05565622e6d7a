package models

import "time"

// RawMessage is a parsed message as it came off the wire. It only lives
// between a fetch and the store insert.
type RawMessage struct {
	UID         uint32
	MessageID   string
	FromAddress string
	FromName    string
	ToAddresses []string
	ToNames     []string
	CCAddresses []string
	Subject     string
	SentAt      time.Time
	BodyText    string
	BodyHTML    string
	// FullHTML holds the untruncated HTML when BodyHTML was cut, so the
	// media phase can still reach payloads past the size limit.
	FullHTML    string
	Headers     map[string][]string
	Attachments []RawAttachment
	IsRead      bool
	Truncated   bool
}

// RawAttachment is an attachment payload extracted by the MIME parser.
type RawAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
	Inline      bool
}

// HasMedia reports whether the message carries anything the background
// upload phase has to externalize.
func (m *RawMessage) HasMedia() bool {
	return len(m.Attachments) > 0 || containsInlinePayload(m.SourceHTML())
}

// SourceHTML returns the HTML as it came off the wire.
func (m *RawMessage) SourceHTML() string {
	if m.FullHTML != "" {
		return m.FullHTML
	}
	return m.BodyHTML
}

// Message is the durable record of an ingested email.
type Message struct {
	ID                string              `json:"id"`
	MailboxID         string              `json:"mailbox_id"`
	TenantID          string              `json:"tenant_id"`
	MessageID         string              `json:"message_id"`
	ThreadID          string              `json:"thread_id"`
	FromAddress       string              `json:"from_address"`
	FromName          string              `json:"from_name"`
	ToAddresses       []string            `json:"to_addresses"`
	CCAddresses       []string            `json:"cc_addresses"`
	Subject           string              `json:"subject"`
	NormalizedSubject string              `json:"-"`
	BodyText          string              `json:"body_text"`
	BodyHTML          string              `json:"body_html"`
	Headers           map[string][]string `json:"headers,omitempty"`
	IsRead            bool                `json:"is_read"`
	IsProcessed       bool                `json:"is_processed"`
	HasAttachments    bool                `json:"has_attachments"`
	TicketID          *string             `json:"ticket_id,omitempty"`
	SentAt            time.Time           `json:"sent_at"`
	CreatedAt         time.Time           `json:"created_at"`
	Attachments       []Attachment        `json:"attachments,omitempty"`
}

// Participants returns the lowercased sender and recipient addresses.
func (m *Message) Participants() []string {
	out := make([]string, 0, 1+len(m.ToAddresses)+len(m.CCAddresses))
	if m.FromAddress != "" {
		out = append(out, lower(m.FromAddress))
	}
	for _, a := range m.ToAddresses {
		out = append(out, lower(a))
	}
	for _, a := range m.CCAddresses {
		out = append(out, lower(a))
	}
	return out
}

type Attachment struct {
	ID          string `json:"id"`
	MessageID   string `json:"message_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Handle      string `json:"handle"`
	URL         string `json:"url"`
	ContentID   string `json:"content_id,omitempty"`
	ContentHash string `json:"-"`
	IsInline    bool   `json:"is_inline"`
}

// UploadedAsset describes one payload that was moved to blob storage.
type UploadedAsset struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Handle      string `json:"handle"`
	URL         string `json:"url"`
	ContentID   string `json:"content_id,omitempty"`
	ContentHash string `json:"-"`
	IsInline    bool   `json:"is_inline"`
}

// ConversationThread is a display-time grouping of stored messages.
type ConversationThread struct {
	ID       string     `json:"id"`
	Subject  string     `json:"subject"`
	Latest   *Message   `json:"latest"`
	Messages []*Message `json:"messages"`
	Unread   bool       `json:"unread"`
	Count    int        `json:"count"`
}
