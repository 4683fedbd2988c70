package relay

import (
	"sync"
	"time"
)

// pendingRequest tracks one in-flight request: the consumer awaiting the
// response, the producer generation it was forwarded under, and the timer
// that fails it if no response arrives.
type pendingRequest struct {
	consumer   *Session
	generation uint64
	timer      *time.Timer
	createdAt  time.Time
}

// PendingTable maps outstanding correlation ids to the consumer sessions
// awaiting resolution. Every entry is removed by exactly one of three paths:
// a matching producer response, its timeout firing, or its consumer
// disconnecting. All removal paths cancel the entry's timer.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		entries: make(map[string]*pendingRequest),
	}
}

// Register inserts an entry for the correlation id. Returns false if the id
// is already outstanding, in which case the caller must not forward.
func (t *PendingTable) Register(id string, consumer *Session, generation uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = &pendingRequest{
		consumer:   consumer,
		generation: generation,
		createdAt:  time.Now(),
	}
	return true
}

// SetTimer attaches the timeout timer to a registered entry. Returns false
// if the entry was already resolved, in which case the caller must stop the
// timer itself.
func (t *PendingTable) SetTimer(id string, timer *time.Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return false
	}
	entry.timer = timer
	return true
}

// Resolve removes and returns the entry for the id, cancelling its timer.
func (t *PendingTable) Resolve(id string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remove(id)
}

// ResolveForGeneration removes and returns the entry only if it was
// registered under the given producer generation. A response from a stale
// producer resolves nothing and is treated as an unknown id.
func (t *PendingTable) ResolveForGeneration(id string, generation uint64) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok || entry.generation != generation {
		return nil, false
	}
	return t.remove(id)
}

// CompareAndRemove removes the entry only if it is still mapped to the same
// consumer session that created it. This is the timeout path's guard against
// a slot that was already resolved or reused.
func (t *PendingTable) CompareAndRemove(id string, consumer *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok || entry.consumer != consumer {
		return false
	}
	t.remove(id)
	return true
}

// RemoveConsumer removes every entry awaiting the given consumer and returns
// the abandoned correlation ids. No error response is synthesized for them;
// no one remains to receive it.
func (t *PendingTable) RemoveConsumer(consumer *Session) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, entry := range t.entries {
		if entry.consumer == consumer {
			removed = append(removed, id)
			t.remove(id)
		}
	}
	return removed
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// remove deletes an entry and stops its timer. Caller must hold t.mu.
func (t *PendingTable) remove(id string) (*pendingRequest, bool) {
	entry, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, true
}
