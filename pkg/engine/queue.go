package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Queue entry priorities. Higher drains first.
const (
	PriorityNormal = 0
	PriorityHigh   = 1
)

// QueueEntry is one wallet awaiting recomputation.
type QueueEntry struct {
	Address  string    `json:"address"`
	QueuedAt time.Time `json:"queuedAt"`
	Priority int       `json:"priority"`
}

// RecalculationQueue is a deduplicating queue of wallet addresses awaiting
// recomputation. Re-enqueuing an address overwrites its entry (last write
// wins), so a wallet is never processed twice for one drain.
//
// DrainAll swaps the whole map out under a lock, so an enqueue racing a
// drain lands either in the drained snapshot or in the fresh map -- never
// nowhere. Entries enqueued while a drain is in flight wait for the next
// drain cycle.
type RecalculationQueue struct {
	mu      sync.RWMutex
	entries *xsync.Map[string, QueueEntry]
}

// NewRecalculationQueue builds an empty queue.
func NewRecalculationQueue() *RecalculationQueue {
	return &RecalculationQueue{
		entries: xsync.NewMap[string, QueueEntry](),
	}
}

// Enqueue adds addresses at the given priority. Never blocks on a drain.
func (q *RecalculationQueue) Enqueue(addresses []string, priority int) {
	if len(addresses) == 0 {
		return
	}

	now := time.Now().UTC()

	// The read lock is held across the whole batch: DrainAll's write lock
	// then serializes against in-flight enqueues, so a batch lands wholly in
	// the drained snapshot or wholly in the fresh map, never split between
	// them. Concurrent enqueuers still proceed under shared read locks.
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		q.entries.Store(addr, QueueEntry{
			Address:  addr,
			QueuedAt: now,
			Priority: priority,
		})
	}
}

// DrainAll atomically removes and returns every queued address, ordered by
// priority (high first) then enqueue time.
func (q *RecalculationQueue) DrainAll() []string {
	q.mu.Lock()
	drained := q.entries
	q.entries = xsync.NewMap[string, QueueEntry]()
	q.mu.Unlock()

	entries := make([]QueueEntry, 0, drained.Size())
	drained.Range(func(_ string, entry QueueEntry) bool {
		entries = append(entries, entry)
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})

	addresses := make([]string, 0, len(entries))
	for _, entry := range entries {
		addresses = append(addresses, entry.Address)
	}
	return addresses
}

// Size returns the number of queued addresses.
func (q *RecalculationQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.entries.Size()
}

// Items returns a snapshot of the queued entries without clearing them.
func (q *RecalculationQueue) Items() []QueueEntry {
	q.mu.RLock()
	entries := q.entries
	q.mu.RUnlock()

	items := make([]QueueEntry, 0, entries.Size())
	entries.Range(func(_ string, entry QueueEntry) bool {
		items = append(items, entry)
		return true
	})

	sort.Slice(items, func(i, j int) bool {
		return items[i].QueuedAt.Before(items[j].QueuedAt)
	})
	return items
}
