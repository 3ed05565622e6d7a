package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
)

// RepairStore is the persistence the repair front door needs.
type RepairStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	EnqueueJob(ctx context.Context, job *models.MediaJob) error
	LatestJob(ctx context.Context, messageID string, kind models.JobKind) (*models.MediaJob, error)
}

// Repairs accepts repair requests and answers status polls.
type Repairs struct {
	store   RepairStore
	tracker Tracker
	notify  func()
}

// NewRepairs creates the repair service. notify wakes the worker pool after
// a job is queued and may be nil.
func NewRepairs(store RepairStore, tracker Tracker, notify func()) *Repairs {
	if notify == nil {
		notify = func() {}
	}
	return &Repairs{store: store, tracker: tracker, notify: notify}
}

// Request queues a repair of the message. started is false when a repair
// for the same message is already in progress; no second job is queued.
func (r *Repairs) Request(ctx context.Context, messageID string) (started bool, err error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}

	ok, err := r.tracker.TryStart(ctx, msg.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	job := &models.MediaJob{MessageID: msg.ID, MailboxID: msg.MailboxID, Kind: models.JobRepair}
	if err := r.store.EnqueueJob(ctx, job); err != nil {
		_ = r.tracker.Finish(ctx, msg.ID)
		return false, fmt.Errorf("failed to queue repair: %w", err)
	}

	log.WithFields(log.Fields{"message_id": msg.ID, "job_id": job.ID}).Info("repair_queued")
	r.notify()
	return true, nil
}

// Status reports the state of the newest repair of the message. Unknown
// messages are idle.
func (r *Repairs) Status(ctx context.Context, messageID string) (models.RepairStatus, error) {
	if active, err := r.tracker.Active(ctx, messageID); err != nil {
		log.WithError(err).WithField("message_id", messageID).Warn("repair_tracker_unavailable")
	} else if active {
		return models.RepairStatus{Status: models.RepairProcessing}, nil
	}

	job, err := r.store.LatestJob(ctx, messageID, models.JobRepair)
	if errors.Is(err, db.ErrJobNotFound) {
		return models.RepairStatus{Status: models.RepairIdle}, nil
	}
	if err != nil {
		return models.RepairStatus{}, err
	}

	switch job.Status {
	case models.JobPending, models.JobProcessing:
		return models.RepairStatus{Status: models.RepairProcessing}, nil
	case models.JobDone:
		if job.Result != nil {
			rs := *job.Result
			rs.Status = models.RepairDone
			return rs, nil
		}
		return models.RepairStatus{Status: models.RepairDone}, nil
	default:
		return models.RepairStatus{Status: models.RepairError, Error: job.LastError}, nil
	}
}
