package blob

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerStore trips after repeated upload failures so a storage outage
// fails media jobs fast instead of holding workers on timeouts. Not-found
// results do not count as failures.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, name string) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("blob_breaker_state_changed")
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) Upload(ctx context.Context, data []byte, filename, mimeType, ownerID string) (Object, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Upload(ctx, data, filename, mimeType, ownerID)
	})
	if err != nil {
		return Object{}, err
	}
	return res.(Object), nil
}

func (b *BreakerStore) Download(ctx context.Context, handle string) ([]byte, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Download(ctx, handle)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (b *BreakerStore) Delete(ctx context.Context, handle string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, handle)
	})
	return err
}

// Open reports whether the breaker currently rejects calls.
func (b *BreakerStore) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
