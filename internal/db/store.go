package db

import (
	"context"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store binds the package functions to a pool so the engine packages can
// depend on small interfaces and be tested with in-memory fakes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store that uses the given database pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveMailbox(ctx context.Context, mb *models.Mailbox) error {
	return SaveMailbox(ctx, s.pool, mb)
}

func (s *Store) GetMailbox(ctx context.Context, id string) (*models.Mailbox, error) {
	return GetMailbox(ctx, s.pool, id)
}

func (s *Store) ListMailboxes(ctx context.Context) ([]*models.Mailbox, error) {
	return ListMailboxes(ctx, s.pool)
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	return InsertMessage(ctx, s.pool, msg)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return GetMessageByID(ctx, s.pool, id)
}

func (s *Store) FindByMessageID(ctx context.Context, mailboxID, messageID string) (*models.Message, error) {
	return FindMessageByMessageID(ctx, s.pool, mailboxID, messageID)
}

func (s *Store) FindRecentBySubject(ctx context.Context, mailboxID, normalizedSubject string, since time.Time) ([]*models.Message, error) {
	return FindRecentBySubject(ctx, s.pool, mailboxID, normalizedSubject, since)
}

func (s *Store) ListRecent(ctx context.Context, mailboxID string, limit int) ([]*models.Message, error) {
	return ListRecentMessages(ctx, s.pool, mailboxID, limit)
}

func (s *Store) UpdateContent(ctx context.Context, id, bodyHTML string, hasAttachments bool) error {
	return UpdateMessageContent(ctx, s.pool, id, bodyHTML, hasAttachments)
}

func (s *Store) ExistingMessageIDs(ctx context.Context, mailboxID string, messageIDs []string) (map[string]struct{}, error) {
	return ExistingMessageIDs(ctx, s.pool, mailboxID, messageIDs)
}

func (s *Store) ListMessageIDs(ctx context.Context, mailboxID string) ([]string, error) {
	return ListMessageIDs(ctx, s.pool, mailboxID)
}

func (s *Store) DeleteByMessageIDs(ctx context.Context, mailboxID string, messageIDs []string) (int64, error) {
	return DeleteMessagesByMessageID(ctx, s.pool, mailboxID, messageIDs)
}

func (s *Store) SaveAttachments(ctx context.Context, messageID string, assets []models.UploadedAsset) (int, error) {
	return SaveAttachments(ctx, s.pool, messageID, assets)
}

func (s *Store) EnqueueJob(ctx context.Context, job *models.MediaJob) error {
	return EnqueueJob(ctx, s.pool, job)
}

func (s *Store) ClaimJobs(ctx context.Context, limit int) ([]*models.MediaJob, error) {
	return ClaimPendingJobs(ctx, s.pool, limit)
}

func (s *Store) CompleteJob(ctx context.Context, id string, result *models.RepairStatus) error {
	return CompleteJob(ctx, s.pool, id, result)
}

func (s *Store) FailJob(ctx context.Context, id, reason string, retry bool, maxAttempts int) error {
	return FailJob(ctx, s.pool, id, reason, retry, maxAttempts)
}

func (s *Store) ResetStaleJobs(ctx context.Context) (int64, error) {
	return ResetStaleJobs(ctx, s.pool)
}

func (s *Store) LatestJob(ctx context.Context, messageID string, kind models.JobKind) (*models.MediaJob, error) {
	return GetLatestJob(ctx, s.pool, messageID, kind)
}
