package imap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 2 * time.Minute

	batchAttempts = 3
	batchPause    = 500 * time.Millisecond
	retryBaseWait = time.Second
)

// Fetcher is the fetch pipeline. Each call opens its own sessions through
// the gate; nothing is pooled between calls.
type Fetcher struct {
	gate         *Gate
	dial         DialFunc
	batchSize    int
	batchTimeout time.Duration
	pause        time.Duration
	retryWait    time.Duration
	now          func() time.Time
}

// NewFetcher creates a Fetcher that dials through gate.
func NewFetcher(gate *Gate) *Fetcher {
	return &Fetcher{
		gate:         gate,
		dial:         Dial,
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		pause:        batchPause,
		retryWait:    retryBaseWait,
		now:          time.Now,
	}
}

// session opens a gated, authenticated session with the folder selected
// read-only. The returned close releases both.
func (f *Fetcher) session(ctx context.Context, creds models.Credentials) (*client.Client, func(), error) {
	release, err := f.gate.Acquire(ctx, creds.MailboxID)
	if err != nil {
		return nil, nil, err
	}
	c, err := f.dial(ctx, creds)
	if err != nil {
		release()
		return nil, nil, err
	}
	if _, err := c.Select(folderOf(creds), true); err != nil {
		closeClient(c)
		release()
		return nil, nil, fmt.Errorf("failed to select %s: %w", folderOf(creds), err)
	}
	return c, func() {
		closeClient(c)
		release()
	}, nil
}

// Fetch returns messages for mode, newest first. Connection problems in a
// batch only lose that batch; an authentication failure aborts the fetch
// with ErrAuthentication.
func (f *Fetcher) Fetch(ctx context.Context, creds models.Credentials, mode FetchMode, limit int) ([]*models.RawMessage, error) {
	entry := log.WithFields(log.Fields{"mailbox": creds.MailboxID, "mode": mode})

	uids, err := f.searchOnce(ctx, creds, mode)
	if err != nil {
		return nil, err
	}
	if n := fetchCap(mode, limit); len(uids) > n {
		uids = uids[:n]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	batches := partition(uids, f.batchSize)
	out := make([]*models.RawMessage, 0, len(uids))
	for i, batch := range batches {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(f.pause):
			}
		}

		msgs, err := f.fetchBatchWithRetry(ctx, creds, batch)
		if IsAuthError(err) {
			return out, err
		}
		if err != nil {
			entry.WithError(err).WithFields(log.Fields{"batch": i, "size": len(batch), "received": len(msgs)}).Warn("fetch_batch_failed")
		}
		out = append(out, msgs...)
	}

	entry.WithFields(log.Fields{"found": len(uids), "fetched": len(out)}).Debug("fetch_done")
	return out, nil
}

func (f *Fetcher) searchOnce(ctx context.Context, creds models.Credentials, mode FetchMode) ([]uint32, error) {
	c, done, err := f.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer done()
	return searchUIDs(c, mode, f.now())
}

func (f *Fetcher) fetchBatchWithRetry(ctx context.Context, creds models.Credentials, uids []uint32) ([]*models.RawMessage, error) {
	var (
		msgs []*models.RawMessage
		err  error
	)
	wait := f.retryWait
	for attempt := 1; attempt <= batchAttempts; attempt++ {
		msgs, err = f.fetchBatch(ctx, creds, uids)
		if err == nil || IsAuthError(err) || len(msgs) > 0 {
			return msgs, err
		}
		if attempt == batchAttempts {
			break
		}
		log.WithFields(log.Fields{"mailbox": creds.MailboxID, "attempt": attempt}).WithError(err).Debug("fetch_batch_retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return msgs, err
}

// fetchBatch pulls full bodies for uids over a fresh session. On timeout it
// returns whatever arrived before the deadline along with the error.
func (f *Fetcher) fetchBatch(ctx context.Context, creds models.Credentials, uids []uint32) ([]*models.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.batchTimeout)
	defer cancel()

	c, done, err := f.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer done()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqSet, items, messages)
	}()

	var out []*models.RawMessage
	for {
		select {
		case <-ctx.Done():
			// Dropping the socket unblocks UidFetch.
			_ = c.Terminate()
			orderLike(out, uids)
			return out, fmt.Errorf("batch timed out after %d messages: %w", len(out), ctx.Err())
		case m, ok := <-messages:
			if !ok {
				orderLike(out, uids)
				if err := <-fetchDone; err != nil {
					return out, fmt.Errorf("failed to fetch batch: %w", err)
				}
				return out, nil
			}
			body := m.GetBody(section)
			if body == nil {
				log.WithFields(log.Fields{"mailbox": creds.MailboxID, "uid": m.Uid}).Warn("fetch_missing_body")
				continue
			}
			raw, err := ParseMessage(m.Uid, m.Flags, body)
			if err != nil {
				log.WithFields(log.Fields{"mailbox": creds.MailboxID, "uid": m.Uid}).WithError(err).Warn("message_parse_failed")
				continue
			}
			out = append(out, raw)
		}
	}
}

// orderLike sorts msgs into the order of uids. Servers answer a FETCH in
// their own order, usually ascending.
func orderLike(msgs []*models.RawMessage, uids []uint32) {
	pos := make(map[uint32]int, len(uids))
	for i, uid := range uids {
		pos[uid] = i
	}
	sort.SliceStable(msgs, func(i, j int) bool { return pos[msgs[i].UID] < pos[msgs[j].UID] })
}

func folderOf(creds models.Credentials) string {
	if creds.Folder == "" {
		return "INBOX"
	}
	return creds.Folder
}
