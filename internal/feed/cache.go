package feed

import (
	"sync"

	"github.com/pders01/neows/internal/storage"
)

// DailyCache holds the payload of a single UTC day. Put replaces the slot
// wholesale and never moves it back to an earlier day; there is no history
// and no eviction.
type DailyCache struct {
	mu   sync.RWMutex
	date string
	data *storage.FeedResponse
}

func NewDailyCache() *DailyCache {
	return &DailyCache{}
}

// Get returns the cached payload if it was stored for date.
func (c *DailyCache) Get(date string) (*storage.FeedResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || c.date != date {
		return nil, false
	}
	return c.data, true
}

// Put stores data for date unless the slot already holds a later day.
// It reports whether the slot was written.
func (c *DailyCache) Put(date string, data *storage.FeedResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if date < c.date {
		return false
	}
	c.date = date
	c.data = data
	return true
}
