package jobs

import (
	"sync"

	"github.com/deskline/mailsync/internal/models"
)

const defaultCacheEntries = 500

// PayloadCache holds parsed messages between ingest and the upload job so
// the worker does not have to download them again. It is best effort: a
// miss (restart, eviction) makes the worker re-fetch by Message-ID.
type PayloadCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*models.RawMessage
	order   []string
}

func NewPayloadCache(max int) *PayloadCache {
	if max <= 0 {
		max = defaultCacheEntries
	}
	return &PayloadCache{max: max, entries: make(map[string]*models.RawMessage)}
}

// Put stores msg under jobID, evicting the oldest entry when full.
func (c *PayloadCache) Put(jobID string, msg *models.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[jobID]; !ok {
		c.order = append(c.order, jobID)
	}
	c.entries[jobID] = msg
	for len(c.entries) > c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Take removes and returns the entry for jobID.
func (c *PayloadCache) Take(jobID string) (*models.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.entries[jobID]
	if !ok {
		return nil, false
	}
	delete(c.entries, jobID)
	for i, id := range c.order {
		if id == jobID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return msg, true
}

func (c *PayloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
