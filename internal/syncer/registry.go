package syncer

import (
	"context"
	"sync"

	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
)

// Factory builds a fresh coordinator for a mailbox.
type Factory func(mailboxID string) *Coordinator

// Registry owns the running coordinators, at most one per mailbox.
type Registry struct {
	ctx     context.Context
	factory Factory

	mu           sync.Mutex
	coordinators map[string]*Coordinator
}

// NewRegistry creates a registry whose coordinators live until ctx is done
// or they are stopped.
func NewRegistry(ctx context.Context, factory Factory) *Registry {
	return &Registry{ctx: ctx, factory: factory, coordinators: make(map[string]*Coordinator)}
}

// Start runs a new coordinator for the mailbox, stopping any existing one
// first.
func (r *Registry) Start(mailboxID string) *Coordinator {
	c := r.factory(mailboxID)

	r.mu.Lock()
	old := r.coordinators[mailboxID]
	r.coordinators[mailboxID] = c
	r.mu.Unlock()

	if old != nil {
		log.WithField("mailbox", mailboxID).Info("sync_replaced")
		old.Stop()
	}
	c.Start(r.ctx)
	return c
}

// Stop stops the mailbox's coordinator. It reports whether one existed.
func (r *Registry) Stop(mailboxID string) bool {
	r.mu.Lock()
	c, ok := r.coordinators[mailboxID]
	delete(r.coordinators, mailboxID)
	r.mu.Unlock()

	if ok {
		c.Stop()
	}
	return ok
}

// Status reports the mailbox's sync state; unknown mailboxes are stopped.
func (r *Registry) Status(mailboxID string) models.SyncStatus {
	r.mu.Lock()
	c, ok := r.coordinators[mailboxID]
	r.mu.Unlock()

	if !ok {
		return models.SyncStatus{State: models.SyncStopped}
	}
	return c.Status()
}

// StopAll stops every coordinator. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	all := r.coordinators
	r.coordinators = make(map[string]*Coordinator)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
}
