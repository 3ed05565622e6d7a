package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/models"
)

type memoryStore struct {
	mu        sync.Mutex
	mailboxes map[string]*models.Mailbox
	messages  []*models.Message
	jobs      []*models.MediaJob

	lookups     int
	existingErr error
}

func newMemoryStore(mailboxes ...*models.Mailbox) *memoryStore {
	s := &memoryStore{mailboxes: make(map[string]*models.Mailbox)}
	for _, mb := range mailboxes {
		s.mailboxes[mb.ID] = mb
	}
	return s
}

func (s *memoryStore) GetMailbox(_ context.Context, id string) (*models.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, db.ErrMailboxNotFound
	}
	return mb, nil
}

func (s *memoryStore) FindByMessageID(_ context.Context, mailboxID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	for _, m := range s.messages {
		if m.MailboxID == mailboxID && m.MessageID == messageID {
			return m, nil
		}
	}
	return nil, db.ErrMessageNotFound
}

func (s *memoryStore) FindRecentBySubject(_ context.Context, mailboxID, subject string, since time.Time) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	var out []*models.Message
	for _, m := range s.messages {
		if m.MailboxID == mailboxID && m.NormalizedSubject == subject && !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) InsertMessage(_ context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.MailboxID == msg.MailboxID && m.MessageID == msg.MessageID {
			return false, nil
		}
	}
	msg.ID = "row-" + msg.MessageID
	s.messages = append(s.messages, msg)
	return true, nil
}

func (s *memoryStore) ExistingMessageIDs(_ context.Context, mailboxID string, ids []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	found := make(map[string]struct{})
	for _, id := range ids {
		for _, m := range s.messages {
			if m.MailboxID == mailboxID && m.MessageID == id {
				found[id] = struct{}{}
			}
		}
	}
	return found, nil
}

func (s *memoryStore) EnqueueJob(_ context.Context, job *models.MediaJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = "job-" + job.MessageID
	job.Status = models.JobPending
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *memoryStore) ListMessageIDs(_ context.Context, mailboxID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.messages {
		if m.MailboxID == mailboxID {
			out = append(out, m.MessageID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) DeleteByMessageIDs(_ context.Context, mailboxID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*models.Message
	var n int64
	for _, m := range s.messages {
		if m.MailboxID == mailboxID && drop[m.MessageID] {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return n, nil
}

func (s *memoryStore) byMessageID(id string) *models.Message {
	m, _ := s.FindByMessageID(context.Background(), "support", id)
	return m
}

type scriptedFetcher struct {
	messages  []*models.RawMessage
	remoteIDs map[string]struct{}
	fetchErr  error
	listErr   error
	lastCreds models.Credentials
	lastMode  imap.FetchMode
}

func (f *scriptedFetcher) Fetch(_ context.Context, creds models.Credentials, mode imap.FetchMode, _ int) ([]*models.RawMessage, error) {
	f.lastCreds = creds
	f.lastMode = mode
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]*models.RawMessage, len(f.messages))
	for i, m := range f.messages {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (f *scriptedFetcher) ListMessageIDs(_ context.Context, creds models.Credentials) (map[string]struct{}, error) {
	f.lastCreds = creds
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.remoteIDs, nil
}

type recordingCache struct {
	mu      sync.Mutex
	entries map[string]*models.RawMessage
}

func (c *recordingCache) Put(jobID string, msg *models.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*models.RawMessage)
	}
	c.entries[jobID] = msg
}
