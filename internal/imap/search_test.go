package imap

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestSearchCriteria(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	unread := searchCriteria(ModeUnread, now)
	assert.Equal(t, []string{imap.SeenFlag}, unread.WithoutFlags)
	assert.Equal(t, now.Add(-90*24*time.Hour), unread.Since)

	recent := searchCriteria(ModeRecent, now)
	assert.Empty(t, recent.WithoutFlags)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), recent.Since)

	latest := searchCriteria(ModeLatest, now)
	assert.True(t, latest.Since.IsZero())
	assert.Empty(t, latest.WithoutFlags)
}

func TestFetchCap(t *testing.T) {
	tests := []struct {
		mode  FetchMode
		limit int
		want  int
	}{
		{ModeUnread, 0, MaxUnreadFetch},
		{ModeUnread, 1000, MaxUnreadFetch},
		{ModeUnread, 10, 10},
		{ModeLatest, 0, MaxFetch},
		{ModeLatest, 5000, MaxFetch},
		{ModeLatest, 50, 50},
		{ModeRecent, 0, MaxFetch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fetchCap(tt.mode, tt.limit), "%s/%d", tt.mode, tt.limit)
	}
}

func TestPartition(t *testing.T) {
	uids := make([]uint32, 250)
	for i := range uids {
		uids[i] = uint32(250 - i)
	}

	batches := partition(uids, 100)
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 100)
	assert.Len(t, batches[2], 50)
	assert.Equal(t, uint32(250), batches[0][0])

	assert.Empty(t, partition(nil, 100))
}

func TestParseFetchMode(t *testing.T) {
	m, err := ParseFetchMode("")
	assert.NoError(t, err)
	assert.Equal(t, ModeUnread, m)

	m, err = ParseFetchMode("latest")
	assert.NoError(t, err)
	assert.Equal(t, ModeLatest, m)

	_, err = ParseFetchMode("everything")
	assert.Error(t, err)
}
