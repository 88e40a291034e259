// Package viewcache keeps a connected client's local view of polls consistent
// while REST snapshot fetches and streamed realtime messages race each other.
// Fetches always win; streamed messages apply only when their per-poll
// sequence number advances, which makes duplicate, stale, and out-of-order
// delivery safe to ignore.
package viewcache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gatherhub/backend/internal/models"
	"github.com/gatherhub/backend/internal/realtime"
)

// Entry is the last-known state for one poll.
type Entry struct {
	Poll        *models.Poll
	Snapshot    models.ResultSnapshot
	Sequence    uint64
	Stale       bool // set on reconnect; cleared by the next fetch
	Speculative bool // optimistic local delta awaiting authoritative state
}

// Cache is a per-client poll view, safe for concurrent use by the client's
// fetch and stream goroutines.
type Cache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[uuid.UUID]*Entry)}
}

// ApplyFetch unconditionally overwrites the poll's entry with an
// authoritative REST-fetched snapshot. The highest sequence seen so far is
// kept, so streamed messages the fetch already reflects stay dropped.
func (c *Cache) ApplyFetch(poll *models.Poll, snapshot models.ResultSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := uint64(0)
	if prev, ok := c.entries[poll.ID]; ok {
		seq = prev.Sequence
	}
	c.entries[poll.ID] = &Entry{Poll: poll, Snapshot: snapshot, Sequence: seq}
}

// ApplyEvent folds a streamed message into the view. It reports whether the
// message was applied; duplicates, stale sequences, messages for unknown
// polls, and messages for entries awaiting a reconnect re-fetch are silently
// dropped. A speculative entry accepts the same sequence again so the
// authoritative snapshot always replaces the optimistic one.
func (c *Cache) ApplyEvent(msg realtime.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, known := c.entries[msg.PollID]

	if msg.Type == realtime.TypePollCreated && msg.Poll != nil {
		if known && msg.Sequence <= entry.Sequence {
			return false
		}
		c.entries[msg.PollID] = &Entry{
			Poll:     msg.Poll,
			Snapshot: models.ResultSnapshot{PollID: msg.PollID},
			Sequence: msg.Sequence,
		}
		return true
	}

	if !known || entry.Stale {
		return false
	}
	if msg.Sequence < entry.Sequence || (msg.Sequence == entry.Sequence && !entry.Speculative) {
		return false
	}
	if msg.ResultSnapshot != nil {
		entry.Snapshot = *msg.ResultSnapshot
	}
	if msg.Type == realtime.TypePollEnded && entry.Poll != nil {
		poll := *entry.Poll
		poll.Status = models.StatusEnded
		entry.Poll = &poll
	}
	entry.Sequence = msg.Sequence
	entry.Speculative = false
	return true
}

// ApplySpeculative installs an optimistic local snapshot ahead of server
// confirmation. It never creates entries: optimism only makes sense for a
// poll the client already knows. The next ApplyFetch, or the next event with
// the same or a later sequence, overwrites it unconditionally.
func (c *Cache) ApplySpeculative(pollID uuid.UUID, snapshot models.ResultSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[pollID]
	if !ok {
		return
	}
	entry.Snapshot = snapshot
	entry.Speculative = true
}

// Invalidate marks every poll of the event stale. Call it on reconnect: any
// number of messages may have been missed while the connection was down, so
// nothing streamed is trusted until a full snapshot has been re-fetched.
func (c *Cache) Invalidate(eventID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Poll != nil && entry.Poll.EventID == eventID {
			entry.Stale = true
		}
	}
}

// InvalidateAll marks every cached poll stale.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		entry.Stale = true
	}
}

// Get returns a copy of the poll's entry.
func (c *Cache) Get(pollID uuid.UUID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[pollID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len returns the number of cached polls.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
