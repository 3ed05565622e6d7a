package imap

import (
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// FetchMode selects which messages a fetch pulls.
type FetchMode string

const (
	// ModeUnread pulls unseen messages from the last 90 days.
	ModeUnread FetchMode = "unread"
	// ModeLatest pulls the N most recent messages regardless of flags.
	ModeLatest FetchMode = "latest"
	// ModeRecent pulls everything that arrived since local midnight.
	ModeRecent FetchMode = "recent"
)

const (
	unreadWindow = 90 * 24 * time.Hour

	// MaxFetch is the hard ceiling for one fetch.
	MaxFetch = 2000
	// MaxUnreadFetch caps unread mode, which runs on every poll tick.
	MaxUnreadFetch = 200
)

// ParseFetchMode validates a mode string. Empty means unread.
func ParseFetchMode(s string) (FetchMode, error) {
	switch FetchMode(s) {
	case "":
		return ModeUnread, nil
	case ModeUnread, ModeLatest, ModeRecent:
		return FetchMode(s), nil
	}
	return "", fmt.Errorf("unknown fetch mode %q", s)
}

func searchCriteria(mode FetchMode, now time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	switch mode {
	case ModeUnread:
		criteria.WithoutFlags = []string{imap.SeenFlag}
		criteria.Since = now.Add(-unreadWindow)
	case ModeRecent:
		y, m, d := now.Date()
		criteria.Since = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	// ModeLatest searches ALL, which is an empty criteria set.
	return criteria
}

// fetchCap returns how many UIDs a fetch keeps.
func fetchCap(mode FetchMode, limit int) int {
	n := MaxFetch
	if mode == ModeUnread {
		n = MaxUnreadFetch
	}
	if limit > 0 && limit < n {
		n = limit
	}
	return n
}

// searchUIDs returns matching UIDs newest first. Servers advertising SORT
// order by arrival themselves; otherwise UID order stands in for it.
func searchUIDs(c *client.Client, mode FetchMode, now time.Time) ([]uint32, error) {
	criteria := searchCriteria(mode, now)

	if ok, err := c.Support("SORT"); err == nil && ok {
		sc := sortthread.NewSortClient(c)
		uids, err := sc.UidSort([]sortthread.SortCriterion{{Field: sortthread.SortArrival, Reverse: true}}, criteria)
		if err == nil {
			return uids, nil
		}
		// Some servers advertise SORT but reject it for certain criteria.
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

// partition splits uids into consecutive batches of at most size.
func partition(uids []uint32, size int) [][]uint32 {
	if size <= 0 {
		size = len(uids)
	}
	var batches [][]uint32
	for start := 0; start < len(uids); start += size {
		end := min(start+size, len(uids))
		batches = append(batches, uids[start:end])
	}
	return batches
}
