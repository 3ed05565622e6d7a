package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskline/mailsync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMailboxNotFound is returned when a mailbox id is not registered.
var ErrMailboxNotFound = errors.New("mailbox not found")

// SaveMailbox inserts the mailbox or updates its connection settings.
func SaveMailbox(ctx context.Context, pool *pgxpool.Pool, mb *models.Mailbox) error {
	if mb.AuthMethod == "" {
		mb.AuthMethod = models.AuthLogin
	}
	if mb.Folder == "" {
		mb.Folder = "INBOX"
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO mailboxes (
			id, tenant_id, address, imap_host, imap_port, imap_username,
			encrypted_password, auth_method, folder
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			address = EXCLUDED.address,
			imap_host = EXCLUDED.imap_host,
			imap_port = EXCLUDED.imap_port,
			imap_username = EXCLUDED.imap_username,
			encrypted_password = EXCLUDED.encrypted_password,
			auth_method = EXCLUDED.auth_method,
			folder = EXCLUDED.folder,
			updated_at = now()
		RETURNING created_at, updated_at
	`,
		mb.ID,
		mb.TenantID,
		mb.Address,
		mb.IMAPHost,
		mb.IMAPPort,
		mb.IMAPUsername,
		mb.EncryptedPassword,
		string(mb.AuthMethod),
		mb.Folder,
	).Scan(&mb.CreatedAt, &mb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mailbox: %w", err)
	}
	return nil
}

const mailboxColumns = `id, tenant_id, address, imap_host, imap_port, imap_username,
	encrypted_password, auth_method, folder, created_at, updated_at`

func scanMailbox(row pgx.Row) (*models.Mailbox, error) {
	var mb models.Mailbox
	var auth string
	if err := row.Scan(
		&mb.ID,
		&mb.TenantID,
		&mb.Address,
		&mb.IMAPHost,
		&mb.IMAPPort,
		&mb.IMAPUsername,
		&mb.EncryptedPassword,
		&auth,
		&mb.Folder,
		&mb.CreatedAt,
		&mb.UpdatedAt,
	); err != nil {
		return nil, err
	}
	mb.AuthMethod = models.AuthMethod(auth)
	return &mb, nil
}

// GetMailbox returns the mailbox with the given id.
func GetMailbox(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Mailbox, error) {
	mb, err := scanMailbox(pool.QueryRow(ctx, `SELECT `+mailboxColumns+` FROM mailboxes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMailboxNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	return mb, nil
}

// ListMailboxes returns every registered mailbox ordered by id.
func ListMailboxes(ctx context.Context, pool *pgxpool.Pool) ([]*models.Mailbox, error) {
	rows, err := pool.Query(ctx, `SELECT `+mailboxColumns+` FROM mailboxes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	defer rows.Close()

	var out []*models.Mailbox
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mailbox: %w", err)
		}
		out = append(out, mb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mailboxes: %w", err)
	}
	return out, nil
}
