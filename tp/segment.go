package tp

import "github.com/someip-go/someip/wire"

// Segment is one outbound TP segment: the TP header plus its slice of the
// original payload.
type Segment struct {
	Header  wire.TPHeader
	Payload []byte
}

// Segmenter splits outbound payloads larger than MTUPayload into a series
// of Segments, grounded on the teacher's sendFragmentedMessage/
// sendSinglePacket split in transport/udp/udp.go, adapted to SOME/IP's
// 16-byte-aligned offset field instead of a fragment index.
type Segmenter struct {
	// MTUPayload is the maximum payload size carried by a single segment,
	// except possibly the last. Must be a multiple of segmentAlignment.
	MTUPayload int
}

// NewSegmenter returns a Segmenter using DefaultMTUPayload.
func NewSegmenter() *Segmenter {
	return &Segmenter{MTUPayload: DefaultMTUPayload}
}

// Split divides payload into one or more Segments. A payload that already
// fits within one MTU still yields a single segment with MoreSegments=false,
// so callers can unconditionally TP-encode anything this returns.
func (s *Segmenter) Split(payload []byte) []Segment {
	mtu := s.MTUPayload
	if mtu <= 0 {
		mtu = DefaultMTUPayload
	}
	// Round down to the required 16-byte alignment so every segment's
	// offset (a running sum of prior segment sizes) stays aligned.
	mtu -= mtu % segmentAlignment
	// An MTU below one alignment unit would round to 0; use one unit.
	if mtu < segmentAlignment {
		mtu = segmentAlignment
	}

	if len(payload) == 0 {
		return []Segment{{Header: wire.TPHeader{Offset: 0, MoreSegments: false}, Payload: nil}}
	}

	var segments []Segment
	for offset := 0; offset < len(payload); offset += mtu {
		end := offset + mtu
		if end > len(payload) {
			end = len(payload)
		}
		segments = append(segments, Segment{
			Header: wire.TPHeader{
				Offset:       uint32(offset),
				MoreSegments: end < len(payload),
			},
			Payload: payload[offset:end],
		})
	}
	return segments
}
