package threading

import (
	"context"
	"errors"
	"time"

	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
)

// SubjectWindow bounds how far back subject matching looks.
const SubjectWindow = 7 * 24 * time.Hour

// MessageLookup is the slice of the message store the resolver needs.
// FindByMessageID returns db.ErrMessageNotFound when nothing matches.
type MessageLookup interface {
	FindByMessageID(ctx context.Context, mailboxID, messageID string) (*models.Message, error)
	FindRecentBySubject(ctx context.Context, mailboxID, normalizedSubject string, since time.Time) ([]*models.Message, error)
}

// Resolver assigns a thread id to an incoming message using only data that
// is already stored. It under-approximates: display-time grouping may still
// merge threads it kept apart.
type Resolver struct {
	lookup MessageLookup
	now    func() time.Time
}

func NewResolver(lookup MessageLookup) *Resolver {
	return &Resolver{lookup: lookup, now: time.Now}
}

// ResolveThreadID never fails. Lookup errors are logged and the next rule is
// tried; the last resort is the message's own normalized id.
func (r *Resolver) ResolveThreadID(ctx context.Context, mailboxID string, msg *models.RawMessage) string {
	own := NormalizeMessageID(msg.MessageID)
	entry := log.WithFields(log.Fields{"mailbox": mailboxID, "message_id": own})

	hdr := ExtractThreadHeaders(msg.Headers)
	if hdr.InReplyTo != "" {
		if id, ok := r.threadOf(ctx, mailboxID, hdr.InReplyTo, own, entry); ok {
			return id
		}
	}

	for _, ref := range hdr.References {
		if id, ok := r.threadOf(ctx, mailboxID, ref, own, entry); ok {
			return id
		}
	}

	if subject := NormalizeSubject(msg.Subject); subject != "" {
		ref := msg.SentAt
		if ref.IsZero() {
			ref = r.now()
		}
		candidates, err := r.lookup.FindRecentBySubject(ctx, mailboxID, subject, ref.Add(-SubjectWindow))
		if err != nil {
			entry.WithError(err).Warn("thread_subject_lookup_failed")
		}
		mine := rawParticipants(msg)
		for _, c := range candidates {
			if NormalizeMessageID(c.MessageID) == own {
				continue
			}
			if overlaps(mine, c.Participants()) {
				return threadIDOf(c)
			}
		}
	}

	return own
}

func (r *Resolver) threadOf(ctx context.Context, mailboxID, parentID, own string, entry *log.Entry) (string, bool) {
	if parentID == own {
		return "", false
	}
	parent, err := r.lookup.FindByMessageID(ctx, mailboxID, parentID)
	if err != nil {
		if !errors.Is(err, db.ErrMessageNotFound) {
			entry.WithError(err).WithField("parent", parentID).Warn("thread_parent_lookup_failed")
		}
		return "", false
	}
	return threadIDOf(parent), true
}

func threadIDOf(m *models.Message) string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return NormalizeMessageID(m.MessageID)
}

func rawParticipants(msg *models.RawMessage) []string {
	m := models.Message{FromAddress: msg.FromAddress, ToAddresses: msg.ToAddresses, CCAddresses: msg.CCAddresses}
	return m.Participants()
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		if x != "" {
			set[x] = struct{}{}
		}
	}
	for _, y := range b {
		if _, ok := set[y]; ok {
			return true
		}
	}
	return false
}
