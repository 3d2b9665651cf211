package tp

import (
	"bytes"
	"sort"
	"sync"
	"time"
)

// Key identifies one in-flight reassembly: the segments of a single
// message share (peer, messageID, clientID, sessionID) (invariant I5).
type Key struct {
	Peer      string
	MessageID uint32
	ClientID  uint16
	SessionID uint16
}

type chunk struct {
	data []byte
}

type assembly struct {
	chunks    map[uint32]chunk // offset -> chunk
	sawTail   bool
	totalLen  int // only meaningful once sawTail is true
	firstSeen time.Time
}

// ReassemblyErrorKind classifies why an assembly was discarded.
type ReassemblyErrorKind int

const (
	ErrKindOverlap ReassemblyErrorKind = iota
	ErrKindCapExceeded
	ErrKindTimeout
)

// ReassemblyError reports a dropped TP assembly. Per spec.md §7, these are
// locally recovered: the assembly is dropped and no notification is sent
// to the peer.
type ReassemblyError struct {
	Kind ReassemblyErrorKind
	Key  Key
}

func (e *ReassemblyError) Error() string {
	switch e.Kind {
	case ErrKindOverlap:
		return "someip/tp: overlapping segment with conflicting content"
	case ErrKindCapExceeded:
		return "someip/tp: reassembled message exceeds cap"
	case ErrKindTimeout:
		return "someip/tp: assembly timed out"
	default:
		return "someip/tp: reassembly error"
	}
}

// Reassembler tracks in-flight TP assemblies and reconstructs completed
// messages. Grounded on the teacher's fragments/fragmentsMu map and
// reassembleMessage in transport/udp/udp.go, adapted from a fragment-index
// map to a byte-offset map since SOME/IP segments carry a byte offset, not
// a sequence index.
//
// Unlike the teacher's transport, Reassembler does not run its own sweep
// goroutine: expiry is driven by the reactor's timer pump calling Sweep,
// per spec.md §4.5 ("TP assembly timeouts" are one of the reactor's timer
// kinds).
type Reassembler struct {
	mu   sync.Mutex
	cap  int
	asms map[Key]*assembly
}

// NewReassembler returns a Reassembler with the given cap on reassembled
// message size. A cap <= 0 selects DefaultAssemblyCap; a cap above
// MaxAssemblyCap is clamped to it.
func NewReassembler(cap int) *Reassembler {
	if cap <= 0 {
		cap = DefaultAssemblyCap
	}
	if cap > MaxAssemblyCap {
		cap = MaxAssemblyCap
	}
	return &Reassembler{cap: cap, asms: make(map[Key]*assembly)}
}

// Feed delivers one received TP segment. It returns (payload, true, nil)
// once the message identified by key is complete; (nil, false, nil) while
// more segments are awaited; or (nil, false, err) if the segment caused the
// assembly to be discarded (overlap or cap exceeded).
//
// Feeding the same segment (same offset, same bytes) more than once is
// idempotent (P4); a segment at an already-seen offset with different
// content is treated as adversarial and drops the whole assembly.
func (r *Reassembler) Feed(key Key, offset uint32, payload []byte, moreSegments bool, now time.Time) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.asms[key]
	if !ok {
		a = &assembly{chunks: make(map[uint32]chunk), firstSeen: now}
		r.asms[key] = a
	}

	if existing, seen := a.chunks[offset]; seen {
		if !bytes.Equal(existing.data, payload) {
			delete(r.asms, key)
			return nil, false, &ReassemblyError{Kind: ErrKindOverlap, Key: key}
		}
		// Duplicate, identical segment: idempotent no-op.
	} else {
		data := make([]byte, len(payload))
		copy(data, payload)
		a.chunks[offset] = chunk{data: data}
	}

	if !moreSegments {
		a.sawTail = true
		a.totalLen = int(offset) + len(payload)
	}

	if !a.sawTail {
		return nil, false, nil
	}

	assembled, complete := tryAssemble(a)
	if !complete {
		return nil, false, nil
	}
	if len(assembled) > r.cap {
		delete(r.asms, key)
		return nil, false, &ReassemblyError{Kind: ErrKindCapExceeded, Key: key}
	}

	delete(r.asms, key)
	return assembled, true, nil
}

// tryAssemble checks for contiguous coverage from offset 0 through the
// known total length and, if complete, concatenates the chunks in order.
func tryAssemble(a *assembly) ([]byte, bool) {
	offsets := make([]uint32, 0, len(a.chunks))
	for off := range a.chunks {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	buf := make([]byte, 0, a.totalLen)
	var next uint32
	for _, off := range offsets {
		if off != next {
			return nil, false // gap
		}
		c := a.chunks[off]
		buf = append(buf, c.data...)
		next = off + uint32(len(c.data))
	}
	if int(next) != a.totalLen {
		return nil, false
	}
	return buf, true
}

// Sweep drops any assembly whose first segment arrived more than
// AssemblyTimeout before now, returning the keys that were dropped so the
// caller can log/count them (spec.md §4.2, §7 ReassemblyError::timeout).
func (r *Reassembler) Sweep(now time.Time) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Key
	for key, a := range r.asms {
		if now.Sub(a.firstSeen) > AssemblyTimeout {
			expired = append(expired, key)
			delete(r.asms, key)
		}
	}
	return expired
}

// Pending reports how many assemblies are currently in flight, for tests
// and metrics.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.asms)
}
