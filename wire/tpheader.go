package wire

import "encoding/binary"

// TPHeaderSize is the length of the TP segmentation header inserted
// between the SOME/IP header and the payload when MessageType.IsTP().
const TPHeaderSize = 4

// TPHeader carries the 28-bit byte offset of a segment within its
// reassembled message plus the more-segments continuation flag (spec.md
// §3). Offsets are always multiples of 16 bytes (invariant I5).
type TPHeader struct {
	Offset        uint32
	MoreSegments  bool
}

// EncodeTPHeader packs h into 4 big-endian bytes: the top 28 bits hold the
// offset, the low bit of the last byte holds more_segments.
func EncodeTPHeader(h TPHeader) []byte {
	buf := make([]byte, TPHeaderSize)
	word := (h.Offset << 4) & 0xFFFFFFF0
	if h.MoreSegments {
		word |= 0x1
	}
	binary.BigEndian.PutUint32(buf, word)
	return buf
}

// DecodeTPHeader parses a 4-byte TP header.
func DecodeTPHeader(b []byte) (TPHeader, error) {
	if len(b) < TPHeaderSize {
		return TPHeader{}, newParseError(ErrKindTruncated, "TP header too short: %d bytes", len(b))
	}
	word := binary.BigEndian.Uint32(b[:TPHeaderSize])
	return TPHeader{
		Offset:       (word & 0xFFFFFFF0) >> 4,
		MoreSegments: word&0x1 != 0,
	}, nil
}
