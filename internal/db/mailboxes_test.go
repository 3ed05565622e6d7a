package db

import (
	"context"
	"errors"
	"testing"

	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetMailbox(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	mb := &models.Mailbox{
		ID:                "support",
		TenantID:          "acme",
		Address:           "support@acme.test",
		IMAPHost:          "imap.acme.test",
		IMAPPort:          993,
		IMAPUsername:      "support@acme.test",
		EncryptedPassword: []byte{1, 2, 3},
	}
	require.NoError(t, SaveMailbox(ctx, pool, mb))
	assert.Equal(t, models.AuthLogin, mb.AuthMethod)

	got, err := GetMailbox(ctx, pool, "support")
	require.NoError(t, err)
	assert.Equal(t, "INBOX", got.Folder)
	assert.Equal(t, []byte{1, 2, 3}, got.EncryptedPassword)

	mb.AuthMethod = models.AuthPlain
	require.NoError(t, SaveMailbox(ctx, pool, mb))

	all, err := ListMailboxes(ctx, pool)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.AuthPlain, all[0].AuthMethod)

	_, err = GetMailbox(ctx, pool, "missing")
	assert.True(t, errors.Is(err, ErrMailboxNotFound))
}
