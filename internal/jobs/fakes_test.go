package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deskline/mailsync/internal/blob"
	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/models"
)

type fakeStore struct {
	mu          sync.Mutex
	messages    map[string]*models.Message
	jobs        []*models.MediaJob
	attachments map[string][]models.UploadedAsset
	claimErr    error
	saveErr     error
}

func newFakeStore(msgs ...*models.Message) *fakeStore {
	s := &fakeStore{messages: make(map[string]*models.Message), attachments: make(map[string][]models.UploadedAsset)}
	for _, m := range msgs {
		s.messages[m.ID] = m
	}
	return s
}

func (s *fakeStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, db.ErrMessageNotFound
	}
	cp := *m
	cp.Attachments = nil
	for _, a := range s.attachments[id] {
		cp.Attachments = append(cp.Attachments, models.Attachment{
			MessageID: id, Filename: a.Filename, MimeType: a.MimeType, SizeBytes: a.SizeBytes,
			Handle: a.Handle, URL: a.URL, ContentID: a.ContentID, ContentHash: a.ContentHash, IsInline: a.IsInline,
		})
	}
	return &cp, nil
}

func (s *fakeStore) EnqueueJob(_ context.Context, job *models.MediaJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	job.Status = models.JobPending
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

func (s *fakeStore) LatestJob(_ context.Context, messageID string, kind models.JobKind) (*models.MediaJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.jobs) - 1; i >= 0; i-- {
		if j := s.jobs[i]; j.MessageID == messageID && j.Kind == kind {
			cp := *j
			return &cp, nil
		}
	}
	return nil, db.ErrJobNotFound
}

func (s *fakeStore) ClaimJobs(_ context.Context, limit int) ([]*models.MediaJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var out []*models.MediaJob
	for _, j := range s.jobs {
		if len(out) == limit {
			break
		}
		if j.Status == models.JobPending {
			j.Status = models.JobProcessing
			j.Attempts++
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) job(id string) *models.MediaJob {
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (s *fakeStore) CompleteJob(_ context.Context, id string, result *models.RepairStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.job(id)
	if j == nil {
		return db.ErrJobNotFound
	}
	j.Status = models.JobDone
	j.Result = result
	return nil
}

func (s *fakeStore) FailJob(_ context.Context, id, reason string, retry bool, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.job(id)
	if j == nil {
		return db.ErrJobNotFound
	}
	j.LastError = reason
	if retry && j.Attempts < maxAttempts {
		j.Status = models.JobPending
	} else {
		j.Status = models.JobError
	}
	return nil
}

func (s *fakeStore) ResetStaleJobs(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobProcessing {
			j.Status = models.JobPending
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateContent(_ context.Context, id, bodyHTML string, hasAttachments bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return db.ErrMessageNotFound
	}
	m.BodyHTML = bodyHTML
	m.HasAttachments = hasAttachments
	m.IsProcessed = true
	return nil
}

func (s *fakeStore) SaveAttachments(_ context.Context, messageID string, assets []models.UploadedAsset) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	// Same conflict rule as the attachments table: one row per content hash.
	n := 0
	for _, a := range assets {
		dup := false
		for _, have := range s.attachments[messageID] {
			if have.ContentHash == a.ContentHash {
				dup = true
				break
			}
		}
		if !dup {
			s.attachments[messageID] = append(s.attachments[messageID], a)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) saved(messageID string) []models.UploadedAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UploadedAsset(nil), s.attachments[messageID]...)
}

func (s *fakeStore) message(id string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

type fakeRefetcher struct {
	mu      sync.Mutex
	calls   int
	byID    map[string]*models.RawMessage
	lastKey string
}

func (f *fakeRefetcher) FetchByMessageID(_ context.Context, creds models.Credentials, messageID string) (*models.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastKey = creds.MailboxID
	raw, ok := f.byID[messageID]
	if !ok {
		return nil, errors.New("message not found on server")
	}
	cp := *raw
	return &cp, nil
}

type staticCreds struct{}

func (staticCreds) Credentials(_ context.Context, mailboxID string) (models.Credentials, error) {
	return models.Credentials{MailboxID: mailboxID, Username: "support@example.com", Password: "secret"}, nil
}

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	fail    bool
}

func (m *memoryBlobs) Upload(_ context.Context, data []byte, filename, _ string, ownerID string) (blob.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return blob.Object{}, errors.New("bucket unavailable")
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.uploads++
	handle := fmt.Sprintf("%s/%d-%s", ownerID, m.uploads, filename)
	m.objects[handle] = data
	return blob.Object{Handle: handle, URL: "https://media.test/" + handle}, nil
}

func (m *memoryBlobs) Download(_ context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[handle]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (m *memoryBlobs) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[handle]; !ok {
		return blob.ErrNotFound
	}
	delete(m.objects, handle)
	return nil
}

func (m *memoryBlobs) stored() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}
