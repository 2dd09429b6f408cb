// Package approval holds actions awaiting a human accept/reject decision.
// The queue never executes anything: it records exactly one resolution per
// item and signals the decision back to whoever enqueued it.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/ids"
)

var (
	// ErrNotFound reports an unknown item id.
	ErrNotFound = errors.New("approval item not found")
	// ErrAlreadyResolved reports a second resolution attempt. The caller
	// lost the race; Get shows the winning transition.
	ErrAlreadyResolved = errors.New("approval item already resolved")
)

// Status of an approval item. Pending transitions exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Item is one deferred action. Payload is opaque to the queue.
type Item struct {
	ID         string          `json:"id"`
	Payload    map[string]any  `json:"payload"`
	Reason     string          `json:"reason"`
	Status     Status          `json:"status"`
	ApprovedBy string          `json:"approved_by,omitempty"`
	RejectedBy string          `json:"rejected_by,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`

	// decision is closed-ended: exactly one resolution is ever sent.
	decision chan Decision
}

// Decision is what the enqueuer receives when a human resolves the item.
type Decision struct {
	Approved bool
	By       string
	Note     string
}

// Stats summarizes queue activity.
type Stats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Persister stores item lifecycle changes outside the process. Implementations
// must not block; a nil persister is valid.
type Persister interface {
	SaveItem(item Item)
	SaveResolution(item Item)
}

// Queue is the in-memory approval queue. Safe for concurrent use; resolution
// is atomic with exactly one winner.
type Queue struct {
	mu      sync.Mutex
	items   map[string]*Item
	order   []string // insertion order, for stable pending/history listings
	bus     *bus.Bus
	store   Persister
	now     func() time.Time
}

func NewQueue(b *bus.Bus) *Queue {
	return &Queue{
		items: make(map[string]*Item),
		bus:   b,
		now:   time.Now,
	}
}

// SetPersister installs an optional durable store.
func (q *Queue) SetPersister(p Persister) { q.store = p }

// Enqueue adds a pending item and returns its id. The returned channel
// receives the eventual decision; it is buffered so resolution never blocks
// on an absent listener.
func (q *Queue) Enqueue(payload map[string]any, reason string) (string, <-chan Decision) {
	item := &Item{
		ID:        ids.New("apr"),
		Payload:   payload,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
		decision:  make(chan Decision, 1),
	}

	q.mu.Lock()
	q.items[item.ID] = item
	q.order = append(q.order, item.ID)
	store := q.store
	snapshot := *item
	q.mu.Unlock()

	if store != nil {
		store.SaveItem(snapshot)
	}
	q.bus.Publish(bus.ApprovalLifecycle{
		Phase:  "created",
		ItemID: item.ID,
		Reason: reason,
		At:     item.CreatedAt,
	})
	return item.ID, item.decision
}

// Pending returns pending items in creation order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item
	for _, id := range q.order {
		if it := q.items[id]; it.Status == StatusPending {
			out = append(out, *it)
		}
	}
	return out
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *it, nil
}

// Approve resolves a pending item. Unknown ids and already-resolved items
// are reported to the caller, never swallowed.
func (q *Queue) Approve(id, approvedBy, note string) (Item, error) {
	return q.resolve(id, StatusApproved, approvedBy, note)
}

// Reject resolves a pending item with a reason.
func (q *Queue) Reject(id, rejectedBy, reason string) (Item, error) {
	return q.resolve(id, StatusRejected, rejectedBy, reason)
}

func (q *Queue) resolve(id string, to Status, by, note string) (Item, error) {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return Item{}, ErrNotFound
	}
	if it.Status != StatusPending {
		snapshot := *it
		q.mu.Unlock()
		return snapshot, ErrAlreadyResolved
	}

	now := q.now().UTC()
	it.Status = to
	it.ResolvedAt = &now
	it.Note = note
	if to == StatusApproved {
		it.ApprovedBy = by
	} else {
		it.RejectedBy = by
	}
	snapshot := *it
	store := q.store
	q.mu.Unlock()

	it.decision <- Decision{Approved: to == StatusApproved, By: by, Note: note}

	if store != nil {
		store.SaveResolution(snapshot)
	}
	q.bus.Publish(bus.ApprovalLifecycle{
		Phase:      "resolved",
		ItemID:     id,
		Status:     string(to),
		ResolvedBy: by,
		At:         now,
	})
	return snapshot, nil
}

// History returns resolved items, most recently created first, up to limit.
func (q *Queue) History(limit int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item
	for i := len(q.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if it := q.items[q.order[i]]; it.Status != StatusPending {
			out = append(out, *it)
		}
	}
	return out
}

// Stats summarizes the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, it := range q.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusRejected:
			s.Rejected++
		}
	}
	s.Total = len(q.items)
	return s
}
