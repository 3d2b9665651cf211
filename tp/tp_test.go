package tp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/someip-go/someip/tp"
)

func buildPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

func TestSegmentAndReassembleInOrder(t *testing.T) {
	payload := buildPayload(5000)
	seg := &tp.Segmenter{MTUPayload: 1392}
	segments := seg.Split(payload)
	require.Greater(t, len(segments), 1)

	r := tp.NewReassembler(tp.DefaultAssemblyCap)
	key := tp.Key{Peer: "127.0.0.1:1234", MessageID: 1, ClientID: 1, SessionID: 1}

	now := time.Now()
	var result []byte
	for _, s := range segments {
		got, done, err := r.Feed(key, s.Header.Offset, s.Payload, s.Header.MoreSegments, now)
		require.NoError(t, err)
		if done {
			result = got
		}
	}
	assert.Equal(t, payload, result)
}

func TestReassembleOutOfOrder(t *testing.T) {
	// S3: deliver segments out of order (offset 1392 before 0) and still succeed.
	payload := buildPayload(5000)
	seg := &tp.Segmenter{MTUPayload: 1392}
	segments := seg.Split(payload)
	require.GreaterOrEqual(t, len(segments), 2)

	reordered := append([]tp.Segment{segments[1]}, segments[0])
	reordered = append(reordered, segments[2:]...)

	r := tp.NewReassembler(tp.DefaultAssemblyCap)
	key := tp.Key{Peer: "peer", MessageID: 1, ClientID: 1, SessionID: 1}
	now := time.Now()

	var result []byte
	for _, s := range reordered {
		got, done, err := r.Feed(key, s.Header.Offset, s.Payload, s.Header.MoreSegments, now)
		require.NoError(t, err)
		if done {
			result = got
		}
	}
	assert.Equal(t, payload, result)
}

func TestDuplicateSegmentIdempotent(t *testing.T) {
	// P4: delivering the same segment N times yields the same result as once.
	payload := buildPayload(5000)
	seg := &tp.Segmenter{MTUPayload: 1392}
	segments := seg.Split(payload)

	r := tp.NewReassembler(tp.DefaultAssemblyCap)
	key := tp.Key{Peer: "peer", MessageID: 1, ClientID: 1, SessionID: 1}
	now := time.Now()

	var result []byte
	for _, s := range segments {
		for i := 0; i < 3; i++ {
			got, done, err := r.Feed(key, s.Header.Offset, s.Payload, s.Header.MoreSegments, now)
			require.NoError(t, err)
			if done {
				result = got
			}
		}
	}
	assert.Equal(t, payload, result)
}

func TestOverlapWithDifferentContentDropsAssembly(t *testing.T) {
	r := tp.NewReassembler(tp.DefaultAssemblyCap)
	key := tp.Key{Peer: "peer", MessageID: 1, ClientID: 1, SessionID: 1}
	now := time.Now()

	_, done, err := r.Feed(key, 0, []byte("aaaaaaaaaaaaaaaa"), true, now)
	require.NoError(t, err)
	require.False(t, done)

	_, done, err = r.Feed(key, 0, []byte("bbbbbbbbbbbbbbbb"), true, now)
	require.Error(t, err)
	assert.False(t, done)
	var reErr *tp.ReassemblyError
	require.ErrorAs(t, err, &reErr)
	assert.Equal(t, tp.ErrKindOverlap, reErr.Kind)

	assert.Equal(t, 0, r.Pending())
}

func TestCapExceeded(t *testing.T) {
	r := tp.NewReassembler(32)
	key := tp.Key{Peer: "peer", MessageID: 1, ClientID: 1, SessionID: 1}
	now := time.Now()

	_, _, err := r.Feed(key, 0, buildPayload(64), false, now)
	require.Error(t, err)
	var reErr *tp.ReassemblyError
	require.ErrorAs(t, err, &reErr)
	assert.Equal(t, tp.ErrKindCapExceeded, reErr.Kind)
}

func TestSweepExpiresStaleAssembly(t *testing.T) {
	r := tp.NewReassembler(tp.DefaultAssemblyCap)
	key := tp.Key{Peer: "peer", MessageID: 1, ClientID: 1, SessionID: 1}
	start := time.Now()

	_, done, err := r.Feed(key, 0, []byte("partial"), true, start)
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 1, r.Pending())

	expired := r.Sweep(start.Add(tp.AssemblyTimeout - time.Millisecond))
	assert.Empty(t, expired)
	assert.Equal(t, 1, r.Pending())

	expired = r.Sweep(start.Add(tp.AssemblyTimeout + time.Millisecond))
	assert.Equal(t, []tp.Key{key}, expired)
	assert.Equal(t, 0, r.Pending())
}

func TestSplitFitsSingleSegment(t *testing.T) {
	seg := tp.NewSegmenter()
	segments := seg.Split([]byte("small"))
	require.Len(t, segments, 1)
	assert.False(t, segments[0].Header.MoreSegments)
	assert.Equal(t, uint32(0), segments[0].Header.Offset)
}
