package insight

import (
	"sync"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

type cacheEntry struct {
	version string
	updated time.Time
	events  int
	report  model.InsightReport
}

// Cache memoizes reports per match. An entry is reused only while the scoring version, the
// record's UpdatedAt and its event count all match; anything else recomputes. Returned reports
// share slices with the cache and must be treated as read-only.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the report for m, computing it on a miss.
func (c *Cache) Get(m *model.MatchRecord) model.InsightReport {
	c.mu.RLock()
	e, ok := c.entries[m.ID]
	c.mu.RUnlock()
	if ok && e.version == scoring.Version && e.updated.Equal(m.UpdatedAt) && e.events == len(m.Events) {
		return e.report
	}

	rep := Analyze(m, scoring.For(m.Sport))
	if m.ID == "" {
		return rep
	}
	c.mu.Lock()
	c.entries[m.ID] = cacheEntry{version: scoring.Version, updated: m.UpdatedAt, events: len(m.Events), report: rep}
	c.mu.Unlock()
	return rep
}

// Invalidate drops the given matches, or everything when called with no IDs.
func (c *Cache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for _, id := range ids {
		delete(c.entries, id)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
