package mqtt

import (
	"encoding/json"
	"sync"
)

// ackResult is the outcome delivered to a PublishAndWait waiter.
type ackResult struct {
	payload json.RawMessage
	err     error
}

// pendingEntry is one in-flight request awaiting its ACK.
//
// done is buffered so completion never blocks the broker worker; the
// completed flag makes delivery idempotent.
type pendingEntry struct {
	messageID      string
	requiredMethod string
	done           chan ackResult
	completed      bool
}

// pendingTable correlates outbound message ids with their ACKs.
//
// It is shared between the caller goroutines (insert, await, remove on
// timeout) and the broker worker (complete). All state is guarded by mu;
// completing an already-completed or already-removed entry is a no-op.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// add registers a new in-flight request. The returned channel receives
// exactly one result unless remove is called first.
func (t *pendingTable) add(messageID, requiredMethod string) (<-chan ackResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[messageID]; exists {
		return nil, ErrDuplicateMessageID
	}

	entry := &pendingEntry{
		messageID:      messageID,
		requiredMethod: requiredMethod,
		done:           make(chan ackResult, 1),
	}
	t.entries[messageID] = entry
	return entry.done, nil
}

// complete delivers an ACK payload to the waiter for messageID.
//
// Returns false when no live entry matches, or when the ACK method does
// not satisfy the entry's required method; the caller logs and drops.
func (t *pendingTable) complete(messageID, method string, payload json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[messageID]
	if !ok || entry.completed {
		return false
	}
	if entry.requiredMethod != "" && entry.requiredMethod != method {
		return false
	}

	entry.completed = true
	delete(t.entries, messageID)
	entry.done <- ackResult{payload: payload}
	return true
}

// remove drops the entry without delivering a result. Used on timeout
// and cancellation; a late ACK then finds nothing to complete.
func (t *pendingTable) remove(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[messageID]; ok {
		entry.completed = true
		delete(t.entries, messageID)
	}
}

// failAll delivers err to every waiter and empties the table. Called on
// Close so no caller is left hanging.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.entries {
		entry.completed = true
		entry.done <- ackResult{err: err}
		delete(t.entries, id)
	}
}

// size returns the number of in-flight requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
