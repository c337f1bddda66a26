package rpc

import (
	"sync"
)

// callTable is the registry of in-flight calls: correlation id to the
// channel its caller is blocked on. All access is serialized by one mutex;
// it is shared between the calling goroutines and the connection reader.
type callTable struct {
	pending map[uint32]chan map[string]any
	next    uint32
	mu      sync.Mutex
}

func newCallTable() *callTable {
	return &callTable{pending: make(map[uint32]chan map[string]any)}
}

// acquire allocates a correlation id that is not currently in flight and
// registers a waiter for it. Ids increase monotonically and wrap around,
// skipping ids that still have a pending call, so an id is never assigned
// twice while outstanding.
func (t *callTable) acquire() (uint32, <-chan map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if _, inFlight := t.pending[t.next]; !inFlight {
			break
		}

		t.next++
	}

	// Buffered so the reader never blocks delivering a reply.
	ch := make(chan map[string]any, 1)
	t.pending[t.next] = ch

	return t.next, ch
}

// release removes id from the registry. Called by the waiter regardless of
// outcome; a reply arriving afterwards is dropped as unmatched.
func (t *callTable) release(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, id)
}

// deliver hands a reply to the waiter registered for id, if any.
// It reports whether a waiter was found. At most one reply is ever
// delivered per id.
func (t *callTable) deliver(id uint32, msg map[string]any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[id]
	if !ok {
		return false
	}

	// The registry holds at most one waiter per id and delivers at most one
	// reply into its 1-slot buffer, so this cannot block.
	ch <- msg
	delete(t.pending, id)

	return true
}

// inFlight returns the number of registered waiters.
func (t *callTable) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}
