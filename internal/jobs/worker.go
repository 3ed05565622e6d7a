package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deskline/mailsync/internal/media"
	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers      = 2
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts applies to upload jobs. Repairs run once; the
	// caller may ask again.
	DefaultMaxAttempts = 3
)

// ErrPendingPastLimit fails a job whose rewritten body is over the size limit
// while still holding payloads that could not be uploaded.
var ErrPendingPastLimit = errors.New("unexternalized media past the body size limit")

// Store is the persistence the worker pool needs.
type Store interface {
	ClaimJobs(ctx context.Context, limit int) ([]*models.MediaJob, error)
	CompleteJob(ctx context.Context, id string, result *models.RepairStatus) error
	FailJob(ctx context.Context, id, reason string, retry bool, maxAttempts int) error
	ResetStaleJobs(ctx context.Context) (int64, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateContent(ctx context.Context, id, bodyHTML string, hasAttachments bool) error
	SaveAttachments(ctx context.Context, messageID string, assets []models.UploadedAsset) (int, error)
}

// Refetcher downloads one message again by its Message-ID.
type Refetcher interface {
	FetchByMessageID(ctx context.Context, creds models.Credentials, messageID string) (*models.RawMessage, error)
}

// CredentialSource resolves a mailbox id to session credentials.
type CredentialSource interface {
	Credentials(ctx context.Context, mailboxID string) (models.Credentials, error)
}

// Worker drains the media job queue with a fixed number of goroutines.
type Worker struct {
	store     Store
	extractor *media.Extractor
	fetcher   Refetcher
	creds     CredentialSource
	cache     *PayloadCache
	tracker   Tracker

	workers      int
	pollInterval time.Duration
	maxAttempts  int
	wake         chan struct{}
}

func NewWorker(store Store, extractor *media.Extractor, fetcher Refetcher, creds CredentialSource, cache *PayloadCache, tracker Tracker) *Worker {
	return &Worker{
		store:        store,
		extractor:    extractor,
		fetcher:      fetcher,
		creds:        creds,
		cache:        cache,
		tracker:      tracker,
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		wake:         make(chan struct{}, 1),
	}
}

// WithWorkers sets the pool size.
func (w *Worker) WithWorkers(n int) *Worker {
	if n > 0 {
		w.workers = n
	}
	return w
}

// Notify wakes an idle worker. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run resets jobs orphaned by a previous process and processes the queue
// until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.store.ResetStaleJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("count", n).Info("media_jobs_resumed")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("media_job_claim_failed")
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	jobs, err := w.store.ClaimJobs(ctx, 1)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	w.process(ctx, jobs[0])
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *models.MediaJob) {
	entry := log.WithFields(log.Fields{"job_id": job.ID, "message_id": job.MessageID, "kind": job.Kind, "attempt": job.Attempts})

	if job.Kind == models.JobRepair {
		defer func() {
			if err := w.tracker.Finish(context.WithoutCancel(ctx), job.MessageID); err != nil {
				entry.WithError(err).Warn("repair_tracker_release_failed")
			}
		}()
	}

	result, err := w.externalize(ctx, job)
	if err != nil {
		retry := job.Kind == models.JobUpload && !errors.Is(err, context.Canceled)
		entry.WithError(err).Error("media_job_failed")
		if ferr := w.store.FailJob(context.WithoutCancel(ctx), job.ID, err.Error(), retry, w.maxAttempts); ferr != nil {
			entry.WithError(ferr).Error("media_job_fail_record_failed")
		}
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID, result); err != nil {
		entry.WithError(err).Error("media_job_complete_failed")
		return
	}
	entry.WithField("assets", len(result.UploadedAssets)).Info("media_job_done")
}

// externalize moves the message's media to blob storage and rewrites the
// stored HTML. It works on the uncut HTML and applies the size limit to the
// rewritten result, so payloads past the limit are still externalized.
func (w *Worker) externalize(ctx context.Context, job *models.MediaJob) (*models.RepairStatus, error) {
	msg, err := w.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}

	raw, err := w.payload(ctx, job, msg)
	if err != nil {
		return nil, err
	}

	var inline []models.RawAttachment
	for _, a := range raw.Attachments {
		if a.Inline || a.ContentID != "" {
			inline = append(inline, a)
		}
	}

	body := raw.SourceHTML()
	if body == "" {
		body = msg.BodyHTML
	}
	extractor := w.extractor.Reusing(media.KnownAttachments(msg.Attachments))
	html, assets := extractor.Process(ctx, body, msg.ID, inline)
	if len(html) > media.MaxBodyBytes && media.HasPendingPayload(html) {
		// Truncating now would drop payloads whose upload failed.
		extractor.Discard(context.WithoutCancel(ctx), assets)
		return nil, ErrPendingPastLimit
	}
	html, _ = media.TruncateHTML(html, media.MaxBodyBytes)
	files := extractor.ProcessAttachments(ctx, msg.ID, raw.Attachments)
	all := append(assets, files...)

	if _, err := w.store.SaveAttachments(ctx, msg.ID, all); err != nil {
		extractor.Discard(context.WithoutCancel(ctx), all)
		return nil, err
	}
	if err := w.store.UpdateContent(ctx, msg.ID, html, len(files) > 0); err != nil {
		return nil, err
	}
	if media.NeedsRepair(html) {
		log.WithFields(log.Fields{"job_id": job.ID, "message_id": msg.ID}).Warn("media_left_unresolved")
	}

	return &models.RepairStatus{Status: models.RepairDone, ProcessedContent: html, UploadedAssets: all}, nil
}

// payload returns the parsed message for the job. Upload jobs normally find
// it in the cache; repairs and resumed jobs download it again.
func (w *Worker) payload(ctx context.Context, job *models.MediaJob, msg *models.Message) (*models.RawMessage, error) {
	if job.Kind == models.JobUpload && w.cache != nil {
		if raw, ok := w.cache.Take(job.ID); ok {
			return raw, nil
		}
	}
	creds, err := w.creds.Credentials(ctx, msg.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	raw, err := w.fetcher.FetchByMessageID(ctx, creds, msg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-fetch message: %w", err)
	}
	return raw, nil
}
