package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// InsertMessage stores a newly ingested message. A message whose Message-ID
// is already stored for the mailbox is left alone and inserted is false.
func InsertMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.Message) (inserted bool, err error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Headers == nil {
		msg.Headers = map[string][]string{}
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO messages (
			id,
			mailbox_id,
			tenant_id,
			message_id,
			thread_id,
			from_address,
			from_name,
			to_addresses,
			cc_addresses,
			subject,
			normalized_subject,
			body_text,
			body_html,
			headers,
			is_read,
			is_processed,
			has_attachments,
			ticket_id,
			sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (mailbox_id, message_id) DO NOTHING
		RETURNING created_at
	`,
		msg.ID,
		msg.MailboxID,
		msg.TenantID,
		msg.MessageID,
		msg.ThreadID,
		msg.FromAddress,
		msg.FromName,
		nonNil(msg.ToAddresses),
		nonNil(msg.CCAddresses),
		msg.Subject,
		msg.NormalizedSubject,
		msg.BodyText,
		msg.BodyHTML,
		msg.Headers,
		msg.IsRead,
		msg.IsProcessed,
		msg.HasAttachments,
		msg.TicketID,
		msg.SentAt,
	).Scan(&msg.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return true, nil
}

const messageColumns = `
			id,
			mailbox_id,
			tenant_id,
			message_id,
			thread_id,
			from_address,
			from_name,
			to_addresses,
			cc_addresses,
			subject,
			normalized_subject,
			body_text,
			body_html,
			headers,
			is_read,
			is_processed,
			has_attachments,
			ticket_id,
			sent_at,
			created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	if err := row.Scan(
		&msg.ID,
		&msg.MailboxID,
		&msg.TenantID,
		&msg.MessageID,
		&msg.ThreadID,
		&msg.FromAddress,
		&msg.FromName,
		&msg.ToAddresses,
		&msg.CCAddresses,
		&msg.Subject,
		&msg.NormalizedSubject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.Headers,
		&msg.IsRead,
		&msg.IsProcessed,
		&msg.HasAttachments,
		&msg.TicketID,
		&msg.SentAt,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

func queryMessages(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// GetMessageByID returns a message by its store id, with attachments.
func GetMessageByID(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrMessageNotFound
	}

	msg, err := scanMessage(pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg.Attachments, err = GetAttachmentsForMessage(ctx, pool, msg.ID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindMessageByMessageID looks a message up by its normalized protocol Message-ID.
func FindMessageByMessageID(ctx context.Context, pool *pgxpool.Pool, mailboxID, messageID string) (*models.Message, error) {
	msg, err := scanMessage(pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE mailbox_id = $1 AND message_id = $2
	`, mailboxID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return msg, nil
}

// FindRecentBySubject returns messages with the given normalized subject sent
// at or after since, newest first.
func FindRecentBySubject(ctx context.Context, pool *pgxpool.Pool, mailboxID, normalizedSubject string, since time.Time) ([]*models.Message, error) {
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE mailbox_id = $1 AND normalized_subject = $2 AND sent_at >= $3
		ORDER BY sent_at DESC
		LIMIT 50
	`, mailboxID, normalizedSubject, since)
}

// ListRecentMessages returns up to limit of the mailbox's newest messages.
func ListRecentMessages(ctx context.Context, pool *pgxpool.Pool, mailboxID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE mailbox_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, mailboxID, limit)
}

// UpdateMessageContent replaces the HTML body after media externalization.
func UpdateMessageContent(ctx context.Context, pool *pgxpool.Pool, id, bodyHTML string, hasAttachments bool) error {
	tag, err := pool.Exec(ctx, `
		UPDATE messages
		SET body_html = $2,
			is_processed = TRUE,
			has_attachments = has_attachments OR $3
		WHERE id = $1
	`, id, bodyHTML, hasAttachments)
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessageIDs returns every stored Message-ID of the mailbox.
func ListMessageIDs(ctx context.Context, pool *pgxpool.Pool, mailboxID string) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT message_id FROM messages WHERE mailbox_id = $1`, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan message ids: %w", err)
	}
	return ids, nil
}

// ExistingMessageIDs returns which of messageIDs are already stored for the
// mailbox.
func ExistingMessageIDs(ctx context.Context, pool *pgxpool.Pool, mailboxID string, messageIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(messageIDs) == 0 {
		return found, nil
	}
	rows, err := pool.Query(ctx, `
		SELECT message_id FROM messages
		WHERE mailbox_id = $1 AND message_id = ANY($2)
	`, mailboxID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check message ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan message ids: %w", err)
	}
	for _, id := range ids {
		found[id] = struct{}{}
	}
	return found, nil
}

// DeleteMessagesByMessageID removes the given Message-IDs from the mailbox.
// Attachment rows and jobs cascade.
func DeleteMessagesByMessageID(ctx context.Context, pool *pgxpool.Pool, mailboxID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := pool.Exec(ctx, `
		DELETE FROM messages
		WHERE mailbox_id = $1 AND message_id = ANY($2)
	`, mailboxID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
