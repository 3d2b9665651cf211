package reactor

import "testing"

func TestSessionAllocatorSkipsZero(t *testing.T) {
	a := newSessionAllocator()
	a.cursor = 0xFFFE

	ids := make([]uint16, 0, 4)
	for i := 0; i < 4; i++ {
		id, ok := a.Allocate()
		if !ok {
			t.Fatalf("Allocate() failed at i=%d", i)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if id == 0 {
			t.Fatalf("allocator handed out session id 0, ids=%v", ids)
		}
	}
}

func TestSessionAllocatorUniqueness(t *testing.T) {
	a := newSessionAllocator()
	seen := make(map[uint16]struct{})
	for i := 0; i < 1000; i++ {
		id, ok := a.Allocate()
		if !ok {
			t.Fatalf("Allocate() failed at i=%d", i)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %d allocated while still in use", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSessionAllocatorReleaseAllowsReuse(t *testing.T) {
	a := newSessionAllocator()
	id, ok := a.Allocate()
	if !ok {
		t.Fatal("Allocate() failed")
	}
	a.Release(id)

	if _, busy := a.inUse[id]; busy {
		t.Fatalf("id %d still marked in-use after Release", id)
	}
}

func TestSessionAllocatorExhaustion(t *testing.T) {
	a := newSessionAllocator()
	for i := 0; i < 0xFFFF; i++ {
		if _, ok := a.Allocate(); !ok {
			t.Fatalf("Allocate() failed early at i=%d", i)
		}
	}
	if _, ok := a.Allocate(); ok {
		t.Fatal("Allocate() succeeded after exhausting all 65535 ids")
	}
}
