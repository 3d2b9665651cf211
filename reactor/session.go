package reactor

import "sync"

// sessionAllocator hands out session ids in [1, 0xFFFF] for one client_id,
// skipping 0 (spec.md §3's "Session IDs are per-client monotonic, wrap
// 1..=0xFFFF (skip 0)"). It uses a scan-cursor over an in-use set, the
// approach spec.md §9 suggests, rather than a bitmap, since Go's map
// already gives O(1) membership without manual bit-twiddling.
type sessionAllocator struct {
	mu     sync.Mutex
	inUse  map[uint16]struct{}
	cursor uint16
}

func newSessionAllocator() *sessionAllocator {
	return &sessionAllocator{inUse: make(map[uint16]struct{}), cursor: 0}
}

// Allocate returns the next free session id, or ok=false if all 65535 ids
// for this client are currently live (SessionExhausted, spec.md §7).
func (a *sessionAllocator) Allocate() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.inUse) >= 0xFFFF {
		return 0, false
	}

	for i := 0; i < 0xFFFF; i++ {
		a.cursor++
		if a.cursor == 0 {
			a.cursor = 1 // skip 0
		}
		if _, busy := a.inUse[a.cursor]; !busy {
			a.inUse[a.cursor] = struct{}{}
			return a.cursor, true
		}
	}
	return 0, false
}

// Release frees a session id so it may be reused (invariant I2: it may
// never be reused *while* a Waiter for it is still live, which callers
// enforce by calling Release only after the Waiter resolves).
func (a *sessionAllocator) Release(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, id)
}
