package board

import (
	"sync"

	"github.com/drawspace/relay/src/types"
)

// Cache is the process-wide map from board id to the latest known snapshot.
// It exists to keep snapshot fanout off the disk: a miss means the caller
// must fall back to the Store before concluding the board has no content.
// It is unbounded; entries leave only via Evict (board deletion).
type Cache struct {
	mu    sync.RWMutex
	snaps map[string]types.Snapshot
}

func NewCache() *Cache {
	return &Cache{snaps: make(map[string]types.Snapshot)}
}

// GetCached returns the cached snapshot for a board, if any.
func (c *Cache) GetCached(id string) (types.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snaps[id]
	return s, ok
}

// SetCached replaces the cached snapshot for a board.
func (c *Cache) SetCached(id string, snap types.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[id] = snap
}

// Evict drops a board from the cache.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
}

// Len reports the number of cached boards.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snaps)
}
