package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deskline/mailsync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when no job exists for a message.
var ErrJobNotFound = errors.New("media job not found")

// EnqueueJob persists a pending job. The job is durable from here on; a
// worker picks it up even if this process dies first.
func EnqueueJob(ctx context.Context, pool *pgxpool.Pool, job *models.MediaJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.JobPending

	err := pool.QueryRow(ctx, `
		INSERT INTO media_jobs (id, message_id, mailbox_id, kind, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, job.ID, job.MessageID, job.MailboxID, string(job.Kind), string(job.Status)).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

const jobColumns = `id, message_id, mailbox_id, kind, status, attempts, last_error, result, created_at, updated_at`

func scanJob(row pgx.Row) (*models.MediaJob, error) {
	var job models.MediaJob
	var kind, status string
	var result []byte
	if err := row.Scan(
		&job.ID,
		&job.MessageID,
		&job.MailboxID,
		&kind,
		&status,
		&job.Attempts,
		&job.LastError,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	if len(result) > 0 {
		var rs models.RepairStatus
		if err := json.Unmarshal(result, &rs); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
		job.Result = &rs
	}
	return &job, nil
}

// ClaimPendingJobs moves up to limit pending jobs to processing and returns
// them. Concurrent claimers never receive the same row.
func ClaimPendingJobs(ctx context.Context, pool *pgxpool.Pool, limit int) ([]*models.MediaJob, error) {
	rows, err := pool.Query(ctx, `
		UPDATE media_jobs
		SET status = 'processing',
			attempts = attempts + 1,
			updated_at = now()
		WHERE id IN (
			SELECT id FROM media_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MediaJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// CompleteJob marks a job done and stores its result.
func CompleteJob(ctx context.Context, pool *pgxpool.Pool, id string, result *models.RepairStatus) error {
	var payload []byte
	if result != nil {
		var err error
		if payload, err = json.Marshal(result); err != nil {
			return fmt.Errorf("failed to encode job result: %w", err)
		}
	}
	_, err := pool.Exec(ctx, `
		UPDATE media_jobs
		SET status = 'done', result = $2, last_error = '', updated_at = now()
		WHERE id = $1
	`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed. With retry set and attempts left it goes back
// to pending instead.
func FailJob(ctx context.Context, pool *pgxpool.Pool, id, reason string, retry bool, maxAttempts int) error {
	_, err := pool.Exec(ctx, `
		UPDATE media_jobs
		SET status = CASE WHEN $3 AND attempts < $4 THEN 'pending' ELSE 'error' END,
			last_error = $2,
			updated_at = now()
		WHERE id = $1
	`, id, reason, retry, maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// ResetStaleJobs returns jobs left in processing by a dead process to pending.
func ResetStaleJobs(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE media_jobs SET status = 'pending', updated_at = now()
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetLatestJob returns the newest job of the given kind for a message.
func GetLatestJob(ctx context.Context, pool *pgxpool.Pool, messageID string, kind models.JobKind) (*models.MediaJob, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, ErrJobNotFound
	}
	job, err := scanJob(pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM media_jobs
		WHERE message_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, messageID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}
