package imap

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxConnections caps simultaneous sessions per mailbox. Gmail
	// starts rejecting logins above a handful of parallel connections.
	DefaultMaxConnections = 3

	gateIdleTimeout = 10 * time.Minute
)

// Gate limits how many sessions run at once for one mailbox. Fetch, repair
// re-fetches, reconciliation and the IDLE listener all pass through it.
type Gate struct {
	mu            sync.Mutex
	slots         map[string]*mailboxSlots
	max           int
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

type mailboxSlots struct {
	sem      chan struct{}
	lastUsed time.Time
	inUse    int
}

// NewGate creates a Gate allowing max sessions per mailbox.
func NewGate(max int) *Gate {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		slots:         make(map[string]*mailboxSlots),
		max:           max,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	go g.startCleanup()
	return g
}

// Acquire blocks until a slot for the mailbox is free or ctx is done. The
// returned release must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, mailboxID string) (func(), error) {
	g.mu.Lock()
	s, ok := g.slots[mailboxID]
	if !ok {
		s = &mailboxSlots{sem: make(chan struct{}, g.max)}
		g.slots[mailboxID] = s
	}
	s.inUse++
	s.lastUsed = time.Now()
	g.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		g.done(s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			g.done(s)
		})
	}, nil
}

func (g *Gate) done(s *mailboxSlots) {
	g.mu.Lock()
	s.inUse--
	s.lastUsed = time.Now()
	g.mu.Unlock()
}

// Close stops the cleanup goroutine.
func (g *Gate) Close() {
	g.cleanupCancel()
}

func (g *Gate) startCleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.cleanupCtx.Done():
			return
		case <-ticker.C:
			g.cleanupIdle(time.Now())
		}
	}
}

// cleanupIdle drops slot sets nobody has touched for a while.
func (g *Gate) cleanupIdle(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.slots {
		if s.inUse == 0 && now.Sub(s.lastUsed) > gateIdleTimeout {
			delete(g.slots, id)
		}
	}
}
