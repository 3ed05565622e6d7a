// Package ingest moves fetched messages into the store: de-duplicate,
// resolve threads, persist, then hand media work to the background queue.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/threading"
	log "github.com/sirupsen/logrus"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	threading.MessageLookup
	MailboxSource
	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	ExistingMessageIDs(ctx context.Context, mailboxID string, messageIDs []string) (map[string]struct{}, error)
	EnqueueJob(ctx context.Context, job *models.MediaJob) error
	ListMessageIDs(ctx context.Context, mailboxID string) ([]string, error)
	DeleteByMessageIDs(ctx context.Context, mailboxID string, messageIDs []string) (int64, error)
}

// Fetcher is the remote side of ingest.
type Fetcher interface {
	Fetch(ctx context.Context, creds models.Credentials, mode imap.FetchMode, limit int) ([]*models.RawMessage, error)
	ListMessageIDs(ctx context.Context, creds models.Credentials) (map[string]struct{}, error)
}

// PayloadCache keeps parsed messages for the upload job.
type PayloadCache interface {
	Put(jobID string, msg *models.RawMessage)
}

// Result counts what one sync pass did.
type Result struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Queued   int `json:"queued"`
	Failed   int `json:"failed"`
}

type Orchestrator struct {
	store   Store
	fetcher Fetcher
	creds   *CredentialResolver
	threads *threading.Resolver
	cache   PayloadCache
	notify  func()
	now     func() time.Time
}

// NewOrchestrator wires the ingest path. notify wakes the media workers and
// may be nil.
func NewOrchestrator(store Store, fetcher Fetcher, creds *CredentialResolver, cache PayloadCache, notify func()) *Orchestrator {
	if notify == nil {
		notify = func() {}
	}
	return &Orchestrator{
		store:   store,
		fetcher: fetcher,
		creds:   creds,
		threads: threading.NewResolver(store),
		cache:   cache,
		notify:  notify,
		now:     time.Now,
	}
}

// Sync fetches from the mailbox and persists everything new. It returns as
// soon as the rows are written; media is externalized by the job worker.
// Authentication failures are returned as imap.ErrAuthentication.
func (o *Orchestrator) Sync(ctx context.Context, mailboxID string, mode imap.FetchMode, limit int) (Result, error) {
	var res Result

	mb, err := o.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return res, err
	}
	creds, err := o.creds.ForMailbox(mb)
	if err != nil {
		return res, err
	}

	raws, err := o.fetcher.Fetch(ctx, creds, mode, limit)
	if err != nil {
		return res, err
	}
	res.Fetched = len(raws)
	known := o.alreadyStored(ctx, mb.ID, raws)

	// Oldest first so replies in the same pass find their parents.
	for i := len(raws) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, ok := known[threading.NormalizeMessageID(raws[i].MessageID)]; ok {
			res.Skipped++
			continue
		}
		o.ingestOne(ctx, mb, raws[i], &res)
	}

	if res.Queued > 0 {
		o.notify()
	}

	log.WithFields(log.Fields{
		"mailbox":  mailboxID,
		"mode":     mode,
		"fetched":  res.Fetched,
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
		"queued":   res.Queued,
		"failed":   res.Failed,
	}).Info("sync_completed")
	return res, nil
}

// alreadyStored saves thread resolution for messages a previous pass stored.
// The unique index on insert still decides; on error nothing is filtered.
func (o *Orchestrator) alreadyStored(ctx context.Context, mailboxID string, raws []*models.RawMessage) map[string]struct{} {
	if len(raws) == 0 {
		return nil
	}
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		ids = append(ids, threading.NormalizeMessageID(raw.MessageID))
	}
	known, err := o.store.ExistingMessageIDs(ctx, mailboxID, ids)
	if err != nil {
		log.WithError(err).WithField("mailbox", mailboxID).Warn("existing_ids_lookup_failed")
		return nil
	}
	return known
}

func (o *Orchestrator) ingestOne(ctx context.Context, mb *models.Mailbox, raw *models.RawMessage, res *Result) {
	entry := log.WithFields(log.Fields{"mailbox": mb.ID, "uid": raw.UID, "message_id": raw.MessageID})

	msg := o.toMessage(ctx, mb, raw)
	inserted, err := o.store.InsertMessage(ctx, msg)
	if err != nil {
		entry.WithError(err).Warn("message_insert_failed")
		res.Failed++
		return
	}
	if !inserted {
		res.Skipped++
		return
	}
	res.Inserted++

	if msg.IsProcessed {
		return
	}
	job := &models.MediaJob{MessageID: msg.ID, MailboxID: mb.ID, Kind: models.JobUpload}
	if err := o.store.EnqueueJob(ctx, job); err != nil {
		// The message stays unprocessed and can be repaired later.
		entry.WithError(err).Warn("media_job_enqueue_failed")
		return
	}
	o.cache.Put(job.ID, raw)
	res.Queued++
}

func (o *Orchestrator) toMessage(ctx context.Context, mb *models.Mailbox, raw *models.RawMessage) *models.Message {
	sentAt := raw.SentAt
	if sentAt.IsZero() {
		sentAt = o.now()
	}

	hasFiles := false
	for _, a := range raw.Attachments {
		if !a.Inline {
			hasFiles = true
			break
		}
	}

	return &models.Message{
		MailboxID:         mb.ID,
		TenantID:          mb.TenantID,
		MessageID:         threading.NormalizeMessageID(raw.MessageID),
		ThreadID:          o.threads.ResolveThreadID(ctx, mb.ID, raw),
		FromAddress:       raw.FromAddress,
		FromName:          raw.FromName,
		ToAddresses:       raw.ToAddresses,
		CCAddresses:       raw.CCAddresses,
		Subject:           raw.Subject,
		NormalizedSubject: threading.NormalizeSubject(raw.Subject),
		BodyText:          raw.BodyText,
		BodyHTML:          raw.BodyHTML,
		Headers:           raw.Headers,
		IsRead:            raw.IsRead,
		IsProcessed:       !raw.HasMedia(),
		HasAttachments:    hasFiles,
		SentAt:            sentAt,
	}
}

// ErrEmptyListing is returned by Reconcile when the server lists no
// messages at all. Deleting everything on that basis is never done.
var ErrEmptyListing = errors.New("remote mailbox listing is empty")

// Reconcile deletes stored messages that are no longer on the server.
// Messages whose Message-ID was generated locally are never deleted.
func (o *Orchestrator) Reconcile(ctx context.Context, mailboxID string) (int64, error) {
	mb, err := o.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return 0, err
	}
	creds, err := o.creds.ForMailbox(mb)
	if err != nil {
		return 0, err
	}

	remote, err := o.fetcher.ListMessageIDs(ctx, creds)
	if err != nil {
		return 0, err
	}
	if len(remote) == 0 {
		return 0, ErrEmptyListing
	}

	stored, err := o.store.ListMessageIDs(ctx, mailboxID)
	if err != nil {
		return 0, err
	}

	var gone []string
	for _, id := range stored {
		if imap.IsSyntheticID(id) {
			continue
		}
		if _, ok := remote[threading.NormalizeMessageID(id)]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}

	n, err := o.store.DeleteByMessageIDs(ctx, mailboxID, gone)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"mailbox": mailboxID, "deleted": n, "remote": len(remote), "stored": len(stored)}).Info("reconcile_completed")
	return n, nil
}
