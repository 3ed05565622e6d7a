package api

import (
	"context"

	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/ingest"
	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/syncer"
	"github.com/stretchr/testify/mock"
)

type mockMailboxes struct{ mock.Mock }

func (m *mockMailboxes) GetMailbox(ctx context.Context, id string) (*models.Mailbox, error) {
	args := m.Called(ctx, id)
	mb, _ := args.Get(0).(*models.Mailbox)
	return mb, args.Error(1)
}

func (m *mockMailboxes) ListRecent(ctx context.Context, mailboxID string, limit int) ([]*models.Message, error) {
	args := m.Called(ctx, mailboxID, limit)
	msgs, _ := args.Get(0).([]*models.Message)
	return msgs, args.Error(1)
}

type mockSyncs struct{ mock.Mock }

func (m *mockSyncs) Start(mailboxID string) *syncer.Coordinator {
	m.Called(mailboxID)
	return nil
}

func (m *mockSyncs) Stop(mailboxID string) bool {
	return m.Called(mailboxID).Bool(0)
}

func (m *mockSyncs) Status(mailboxID string) models.SyncStatus {
	return m.Called(mailboxID).Get(0).(models.SyncStatus)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Sync(ctx context.Context, mailboxID string, mode imap.FetchMode, limit int) (ingest.Result, error) {
	args := m.Called(ctx, mailboxID, mode, limit)
	return args.Get(0).(ingest.Result), args.Error(1)
}

type mockRepairs struct{ mock.Mock }

func (m *mockRepairs) Request(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepairs) Status(ctx context.Context, messageID string) (models.RepairStatus, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.RepairStatus), args.Error(1)
}
