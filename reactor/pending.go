package reactor

import (
	"sync"
	"time"

	"github.com/someip-go/someip/wire"
)

// RequestKey identifies one pending request by the pair spec.md §3 uses for
// the pending-request table.
type RequestKey struct {
	ClientID  uint16
	SessionID uint16
}

// Result is what a Waiter resolves to: either a response (ReturnCode +
// Payload) or an error (TimeoutError, ShuttingDownError, ...).
type Result struct {
	ReturnCode wire.ReturnCode
	Payload    []byte
	Err        error
}

// Waiter is one in-flight request awaiting a response, timeout, or
// cancellation (spec.md §3, §4.5). It resolves exactly once — spec.md §5's
// ordering guarantee — enforced by the table removing it under the
// table's lock before delivering the result, so only the first
// resolution finds it.
type Waiter struct {
	MessageID uint32
	Deadline  time.Time
	TraceID   string // for log correlation only, not a wire field

	done chan Result
}

// Wait blocks until the Waiter resolves.
func (w *Waiter) Wait() Result {
	return <-w.done
}

// PendingTable is the reactor-owned map of in-flight requests, grounded on
// the teacher's pendingRequests map[string]chan *protocol.JSONRPCResponse
// in client/client_impl.go, re-keyed by (client_id, session_id) instead of
// a JSON-RPC string id.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[RequestKey]*Waiter
}

// NewPendingTable constructs an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[RequestKey]*Waiter)}
}

// Insert registers a new Waiter. The caller must not already hold a Waiter
// for key (invariant I2); Insert panics if one exists, since that would
// indicate the reactor's own session allocator is broken.
func (t *PendingTable) Insert(key RequestKey, messageID uint32, deadline time.Time, traceID string) *Waiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[key]; exists {
		panic("someip/reactor: duplicate pending request for client/session pair")
	}
	w := &Waiter{MessageID: messageID, Deadline: deadline, TraceID: traceID, done: make(chan Result, 1)}
	t.waiters[key] = w
	return w
}

// Resolve fulfills the Waiter for key with result, if one is still
// pending. It returns false if the key was already resolved/unknown (a
// late response, which is silently dropped per spec.md §4.5).
func (t *PendingTable) Resolve(key RequestKey, result Result) bool {
	t.mu.Lock()
	w, ok := t.waiters[key]
	if ok {
		delete(t.waiters, key)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	w.done <- result
	return true
}

// Cancel removes the Waiter for key, if any, and resolves it with err.
// Removing a Waiter is always safe per spec.md §5: a later-arriving
// response finds no entry and is dropped.
func (t *PendingTable) Cancel(key RequestKey, err error) bool {
	return t.Resolve(key, Result{Err: err})
}

// ExpireDeadlines resolves every Waiter whose deadline is <= now with a
// TimeoutError, returning how many were expired. Called by the reactor's
// timer wheel.
func (t *PendingTable) ExpireDeadlines(now time.Time) int {
	t.mu.Lock()
	var expired []*Waiter
	for key, w := range t.waiters {
		if !now.Before(w.Deadline) {
			expired = append(expired, w)
			delete(t.waiters, key)
		}
	}
	t.mu.Unlock()

	// Resolve outside the lock so a slow receiver can't stall other
	// expirations or new Insert/Resolve calls.
	for _, w := range expired {
		w.done <- Result{Err: &TimeoutError{}}
	}
	return len(expired)
}

// CancelAll resolves every pending Waiter with err (ShuttingDown, spec.md
// §5 stop semantics) and empties the table.
func (t *PendingTable) CancelAll(err error) int {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[RequestKey]*Waiter)
	t.mu.Unlock()

	for _, w := range waiters {
		w.done <- Result{Err: err}
	}
	return len(waiters)
}

// Len reports how many requests are currently pending, for tests/metrics.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
