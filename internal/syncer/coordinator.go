// Package syncer keeps mailboxes in sync: a periodic poll plus an IDLE push
// connection per mailbox, supervised by a Registry.
package syncer

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/ingest"
	"github.com/deskline/mailsync/internal/models"
	"github.com/deskline/mailsync/internal/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Ingester runs fetch passes and reconciliation.
type Ingester interface {
	Sync(ctx context.Context, mailboxID string, mode imap.FetchMode, limit int) (ingest.Result, error)
	Reconcile(ctx context.Context, mailboxID string) (int64, error)
}

// Listener holds an IDLE connection until ctx is done or the connection
// drops.
type Listener interface {
	Listen(ctx context.Context, creds models.Credentials, ready func(), events chan<- imap.Event) error
}

type CredentialSource interface {
	Credentials(ctx context.Context, mailboxID string) (models.Credentials, error)
}

// Publisher pushes status changes to connected dashboards.
type Publisher interface {
	Publish(mailboxID string, ev websocket.Event)
}

type Options struct {
	PollInterval   time.Duration
	IdleStartDelay time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   30 * time.Second,
		IdleStartDelay: time.Second,
		BackoffMin:     10 * time.Second,
		BackoffMax:     30 * time.Second,
	}
}

// Coordinator drives one mailbox. It is single use: once stopped or failed
// it never runs again; the registry creates a fresh one on restart.
type Coordinator struct {
	mailboxID string
	ingester  Ingester
	listener  Listener
	creds     CredentialSource
	publisher Publisher
	opts      Options

	mu         sync.Mutex
	status     models.SyncStatus
	synced     bool
	backingOff bool
	started    bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}

	// work serializes fetch passes for the mailbox.
	work sync.Mutex
}

func NewCoordinator(mailboxID string, ingester Ingester, listener Listener, creds CredentialSource, publisher Publisher, opts Options) *Coordinator {
	return &Coordinator{
		mailboxID: mailboxID,
		ingester:  ingester,
		listener:  listener,
		creds:     creds,
		publisher: publisher,
		opts:      opts,
		status:    models.SyncStatus{State: models.SyncStopped},
	}
}

// Start launches the poll and IDLE loops. Calling it twice, or after Stop,
// does nothing.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = models.SyncStatus{State: models.SyncStarting, IsRunning: true}
	c.mu.Unlock()

	log.WithField("mailbox", c.mailboxID).Info("sync_started")
	c.publishStatus()
	go c.run(runCtx)
}

// Stop tears down the timer and any open connection, from any state, and
// waits for in-flight work to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	c.status.State = models.SyncStopped
	c.status.IsRunning = false
	c.status.IdleConnected = false
	c.mu.Unlock()

	log.WithField("mailbox", c.mailboxID).Info("sync_stopped")
	c.publishStatus()
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() models.SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if st.LastSync != nil {
		t := *st.LastSync
		st.LastSync = &t
	}
	return st
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	events := make(chan imap.Event, 8)
	var g errgroup.Group
	g.Go(func() error {
		c.pollLoop(ctx)
		return nil
	})
	g.Go(func() error {
		c.idleLoop(ctx, events)
		return nil
	})
	g.Go(func() error {
		c.handleEvents(ctx, events)
		return nil
	})
	_ = g.Wait()
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		c.syncOnce(ctx, imap.ModeUnread)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) idleLoop(ctx context.Context, events chan<- imap.Event) {
	if !sleep(ctx, c.opts.IdleStartDelay) {
		return
	}
	for {
		creds, err := c.creds.Credentials(ctx, c.mailboxID)
		if err == nil {
			err = c.listener.Listen(ctx, creds, c.idleReady, events)
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, imap.ErrAuthentication) {
			c.fail(err)
			return
		}
		if err == nil {
			err = errors.New("idle connection closed")
		}

		wait := c.backoff()
		c.idleDropped(err, wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (c *Coordinator) handleEvents(ctx context.Context, events <-chan imap.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case imap.EventNewMail:
				c.syncOnce(ctx, imap.ModeRecent)
			case imap.EventExpunge:
				c.reconcile(ctx)
			}
		}
	}
}

func (c *Coordinator) syncOnce(ctx context.Context, mode imap.FetchMode) {
	c.work.Lock()
	defer c.work.Unlock()
	if ctx.Err() != nil {
		return
	}

	res, err := c.ingester.Sync(ctx, c.mailboxID, mode, 0)
	if err != nil {
		c.handleError(ctx, err, string(mode))
		return
	}

	now := time.Now()
	c.mu.Lock()
	c.synced = true
	c.status.LastSync = &now
	c.status.EmailsSynced += res.Inserted
	c.status.LastError = ""
	c.refreshState()
	c.mu.Unlock()

	c.publishStatus()
	if res.Inserted > 0 {
		c.publish(websocket.Event{Type: websocket.EventNewEmail, Count: res.Inserted})
	}
}

func (c *Coordinator) reconcile(ctx context.Context) {
	c.work.Lock()
	defer c.work.Unlock()
	if ctx.Err() != nil {
		return
	}

	_, err := c.ingester.Reconcile(ctx, c.mailboxID)
	if errors.Is(err, ingest.ErrEmptyListing) {
		log.WithField("mailbox", c.mailboxID).Warn("reconcile_skipped_empty_listing")
		return
	}
	if err != nil {
		c.handleError(ctx, err, "reconcile")
	}
}

func (c *Coordinator) handleError(ctx context.Context, err error, op string) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, imap.ErrAuthentication) {
		c.fail(err)
		return
	}
	log.WithError(err).WithFields(log.Fields{"mailbox": c.mailboxID, "op": op}).Warn("sync_pass_failed")
	c.mu.Lock()
	c.status.LastError = err.Error()
	c.mu.Unlock()
	c.publishStatus()
}

// fail is terminal: both loops stop and nothing reconnects until the
// mailbox is started again.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.status.State == models.SyncFailed {
		c.mu.Unlock()
		return
	}
	c.status.State = models.SyncFailed
	c.status.AuthFailed = true
	c.status.IsRunning = false
	c.status.IdleConnected = false
	c.status.LastError = err.Error()
	cancel := c.cancel
	c.mu.Unlock()

	log.WithError(err).WithField("mailbox", c.mailboxID).Error("sync_auth_failed")
	c.publishStatus()
	cancel()
}

func (c *Coordinator) idleReady() {
	c.mu.Lock()
	c.backingOff = false
	c.status.IdleConnected = true
	c.refreshState()
	c.mu.Unlock()

	log.WithField("mailbox", c.mailboxID).Info("idle_connected")
	c.publishStatus()
}

func (c *Coordinator) idleDropped(err error, wait time.Duration) {
	c.mu.Lock()
	c.backingOff = true
	c.status.IdleConnected = false
	c.status.LastError = err.Error()
	c.refreshState()
	c.mu.Unlock()

	log.WithError(err).WithFields(log.Fields{"mailbox": c.mailboxID, "retry_in": wait.String()}).Warn("idle_disconnected")
	c.publishStatus()
}

// refreshState derives Starting/Running. Callers hold c.mu.
func (c *Coordinator) refreshState() {
	if c.status.State == models.SyncFailed || c.status.State == models.SyncStopped {
		return
	}
	if c.backingOff || (!c.synced && !c.status.IdleConnected) {
		c.status.State = models.SyncStarting
		return
	}
	c.status.State = models.SyncRunning
}

func (c *Coordinator) backoff() time.Duration {
	lo, hi := c.opts.BackoffMin, c.opts.BackoffMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func (c *Coordinator) publishStatus() {
	st := c.Status()
	c.publish(websocket.Event{Type: websocket.EventSyncStatus, Status: st})
}

func (c *Coordinator) publish(ev websocket.Event) {
	if c.publisher != nil {
		c.publisher.Publish(c.mailboxID, ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
