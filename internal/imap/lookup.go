package imap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deskline/mailsync/internal/models"
	"github.com/emersion/go-imap"
	log "github.com/sirupsen/logrus"
)

// ErrMessageNotFound is returned when the server has no message with the
// requested Message-ID.
var ErrMessageNotFound = errors.New("message not found on server")

// FetchByMessageID re-downloads one message, located by a header search.
func (f *Fetcher) FetchByMessageID(ctx context.Context, creds models.Credentials, messageID string) (*models.RawMessage, error) {
	id := strings.Trim(strings.TrimSpace(messageID), "<>")
	if id == "" {
		return nil, ErrMessageNotFound
	}

	c, done, err := f.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	uids, err := func() ([]uint32, error) {
		defer done()
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-ID", "<"+id+">")
		return c.UidSearch(criteria)
	}()
	if err != nil {
		return nil, fmt.Errorf("failed to search by message id: %w", err)
	}
	if len(uids) == 0 {
		return nil, ErrMessageNotFound
	}

	msgs, err := f.fetchBatchWithRetry(ctx, creds, uids[len(uids)-1:])
	if err != nil && len(msgs) == 0 {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrMessageNotFound
	}
	return msgs[0], nil
}

// ListMessageIDs returns the normalized Message-IDs of every message in the
// folder. Envelopes are fetched in batches, each over a fresh session.
func (f *Fetcher) ListMessageIDs(ctx context.Context, creds models.Credentials) (map[string]struct{}, error) {
	uids, err := f.searchOnce(ctx, creds, ModeLatest)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(uids))
	for i, batch := range partition(uids, f.batchSize*5) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.pause):
			}
		}
		envelopes, err := f.fetchEnvelopes(ctx, creds, batch)
		if err != nil {
			// A partial listing would make reconciliation delete live messages.
			return nil, err
		}
		for _, env := range envelopes {
			if id := normalizeID(env.MessageId); id != "" {
				ids[id] = struct{}{}
			}
		}
	}

	log.WithFields(log.Fields{"mailbox": creds.MailboxID, "count": len(ids)}).Debug("remote_ids_listed")
	return ids, nil
}

func (f *Fetcher) fetchEnvelopes(ctx context.Context, creds models.Credentials, uids []uint32) ([]*imap.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, f.batchTimeout)
	defer cancel()

	c, done, err := f.session(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer done()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}, messages)
	}()

	var out []*imap.Envelope
	for {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
			return nil, fmt.Errorf("envelope fetch timed out: %w", ctx.Err())
		case m, ok := <-messages:
			if !ok {
				if err := <-fetchDone; err != nil {
					return nil, fmt.Errorf("failed to fetch envelopes: %w", err)
				}
				return out, nil
			}
			if m.Envelope != nil {
				out = append(out, m.Envelope)
			}
		}
	}
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(strings.TrimSpace(id))
}
