package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
)

// Collection is an immutable snapshot of the canonical match set. Readers may hold on to a
// snapshot for as long as they like; changes produce a new one.
type Collection struct {
	version        int64
	byID           map[string]model.MatchRecord
	order          []string         // StartedAt descending
	pendingDeletes map[string]int64 // 0 until the remote acknowledges, then the ack version
	pendingUploads map[string]bool
	cursor         time.Time
	lastRefresh    time.Time
}

func emptyCollection() *Collection {
	return &Collection{
		byID:           make(map[string]model.MatchRecord),
		pendingDeletes: make(map[string]int64),
		pendingUploads: make(map[string]bool),
	}
}

// clone returns a mutable copy with the next version. Only the engine's writer path calls it.
func (c *Collection) clone() *Collection {
	n := &Collection{
		version:        c.version + 1,
		byID:           make(map[string]model.MatchRecord, len(c.byID)),
		pendingDeletes: make(map[string]int64, len(c.pendingDeletes)),
		pendingUploads: make(map[string]bool, len(c.pendingUploads)),
		cursor:         c.cursor,
		lastRefresh:    c.lastRefresh,
	}
	for k, v := range c.byID {
		n.byID[k] = v
	}
	for k, v := range c.pendingDeletes {
		n.pendingDeletes[k] = v
	}
	for k := range c.pendingUploads {
		n.pendingUploads[k] = true
	}
	return n
}

// seal rebuilds the display order; the collection must not change afterwards.
func (c *Collection) seal() *Collection {
	recs := make([]model.MatchRecord, 0, len(c.byID))
	for _, m := range c.byID {
		recs = append(recs, m)
	}
	sortNewestFirst(recs)
	c.order = make([]string, len(recs))
	for i := range recs {
		c.order[i] = recs[i].ID
	}
	return c
}

func (c *Collection) Version() int64           { return c.version }
func (c *Collection) Len() int                 { return len(c.order) }
func (c *Collection) Cursor() time.Time        { return c.cursor }
func (c *Collection) LastRefresh() time.Time   { return c.lastRefresh }
func (c *Collection) PendingUploads() []string { return sortedKeys(c.pendingUploads) }

// PendingDeletes lists deleted IDs the remote store has not acknowledged yet.
func (c *Collection) PendingDeletes() []string {
	out := make([]string, 0, len(c.pendingDeletes))
	for id, acked := range c.pendingDeletes {
		if acked == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// deleted reports whether id was deleted recently enough that remote copies must be ignored.
func (c *Collection) deleted(id string) bool {
	_, ok := c.pendingDeletes[id]
	return ok
}

// Has reports whether the collection holds id.
func (c *Collection) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the match with the given ID.
func (c *Collection) Get(id string) (model.MatchRecord, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Find resolves a unique ID prefix.
func (c *Collection) Find(prefix string) (model.MatchRecord, error) {
	if m, ok := c.byID[prefix]; ok {
		return m, nil
	}
	var found []string
	for _, id := range c.order {
		if strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return model.MatchRecord{}, fmt.Errorf("no match with id prefix %q", prefix)
	case 1:
		return c.byID[found[0]], nil
	default:
		return model.MatchRecord{}, fmt.Errorf("id prefix %q is ambiguous (%d matches)", prefix, len(found))
	}
}

// List returns the matches newest first. The slice is a fresh copy; the records share their
// inner slices with the snapshot and must not be modified.
func (c *Collection) List() []model.MatchRecord {
	out := make([]model.MatchRecord, len(c.order))
	for i, id := range c.order {
		out[i] = c.byID[id]
	}
	return out
}

// IDs returns every ID newest first.
func (c *Collection) IDs() []string {
	return append([]string(nil), c.order...)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- Persisted form ----

type state struct {
	Version        int64               `json:"version"`
	Matches        []model.MatchRecord `json:"matches"`
	PendingDeletes []string            `json:"pending_deletes,omitempty"`
	PendingUploads []string            `json:"pending_uploads,omitempty"`
	Cursor         time.Time           `json:"cursor"`
	LastRefresh    time.Time           `json:"last_refresh"`
}

// Encode serializes the snapshot into the opaque blob kept by the local store.
func (c *Collection) Encode() ([]byte, error) {
	st := state{
		Version:        c.version,
		Matches:        c.List(),
		PendingDeletes: c.PendingDeletes(),
		PendingUploads: c.PendingUploads(),
		Cursor:         c.cursor,
		LastRefresh:    c.lastRefresh,
	}
	return json.Marshal(st)
}

// Decode restores a snapshot from a blob written by Encode. Duplicate IDs in the blob are
// merged rather than kept twice.
func Decode(blob []byte) (*Collection, error) {
	var st state
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	c := emptyCollection()
	c.version = st.Version
	c.cursor = st.Cursor
	c.lastRefresh = st.LastRefresh
	mergeInto(c.byID, st.Matches, nil)
	for _, id := range st.PendingDeletes {
		c.pendingDeletes[id] = 0
	}
	for _, id := range st.PendingUploads {
		if c.Has(id) {
			c.pendingUploads[id] = true
		}
	}
	return c.seal(), nil
}
