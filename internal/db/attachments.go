package db

import (
	"context"
	"fmt"

	"github.com/deskline/mailsync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SaveAttachments records uploaded assets for a message. Assets already
// recorded with the same content hash are skipped, so re-running an upload
// or repair job does not duplicate rows. It returns how many rows were new.
func SaveAttachments(ctx context.Context, pool *pgxpool.Pool, messageID string, assets []models.UploadedAsset) (int, error) {
	if len(assets) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(`
			INSERT INTO attachments (
				message_id, filename, mime_type, size_bytes, handle, url,
				content_id, content_hash, is_inline
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (message_id, content_hash) DO NOTHING
		`, messageID, a.Filename, a.MimeType, a.SizeBytes, a.Handle, a.URL, a.ContentID, a.ContentHash, a.IsInline)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range assets {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to save attachment: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetAttachmentsForMessage returns the stored attachments of a message.
func GetAttachmentsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, filename, mime_type, size_bytes, handle, url,
			content_id, content_hash, is_inline
		FROM attachments
		WHERE message_id = $1
		ORDER BY created_at, filename
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&a.Filename,
			&a.MimeType,
			&a.SizeBytes,
			&a.Handle,
			&a.URL,
			&a.ContentID,
			&a.ContentHash,
			&a.IsInline,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}
	return out, nil
}
