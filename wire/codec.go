package wire

import "encoding/binary"

// Encode serializes h and payload into a wire-ready SOME/IP datagram. The
// length field is computed as 8 + len(payload), matching invariant I1 in
// spec.md §3 (length covers everything after the length field itself).
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))

	binary.BigEndian.PutUint16(buf[0:2], h.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], h.MethodID)
	binary.BigEndian.PutUint32(buf[4:8], uint32(8+len(payload)))
	binary.BigEndian.PutUint16(buf[8:10], h.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], h.SessionID)

	protoVersion := h.ProtocolVersion
	if protoVersion == 0 {
		protoVersion = ProtocolVersion
	}
	buf[12] = protoVersion
	buf[13] = h.InterfaceVersion
	buf[14] = byte(h.MessageType)
	buf[15] = byte(h.ReturnCode)

	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a SOME/IP datagram. It validates protocol_version and the
// declared length field, returning a *ParseError on any mismatch so the
// caller can drop the datagram without replying (spec.md §4.1). Unknown
// message_type/return_code values are preserved rather than rejected,
// since some peers add vendor codes the core must still be able to
// forward.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, newParseError(ErrKindTruncated,
			"datagram too short: got %d bytes, need at least %d", len(b), HeaderSize)
	}

	h := Header{
		ServiceID:        binary.BigEndian.Uint16(b[0:2]),
		MethodID:         binary.BigEndian.Uint16(b[2:4]),
		ClientID:         binary.BigEndian.Uint16(b[8:10]),
		SessionID:        binary.BigEndian.Uint16(b[10:12]),
		ProtocolVersion:  b[12],
		InterfaceVersion: b[13],
		MessageType:      MessageType(b[14]),
		ReturnCode:       ReturnCode(b[15]),
	}

	if h.ProtocolVersion != ProtocolVersion {
		return Header{}, nil, newParseError(ErrKindProtocolVersion,
			"unsupported protocol_version 0x%02X", h.ProtocolVersion)
	}

	declaredLength := binary.BigEndian.Uint32(b[4:8])
	wantLength := uint32(len(b) - 8)
	if declaredLength != wantLength {
		return Header{}, nil, newParseError(ErrKindLength,
			"length field %d does not match remaining bytes %d", declaredLength, wantLength)
	}

	payload := make([]byte, len(b)-HeaderSize)
	copy(payload, b[HeaderSize:])
	return h, payload, nil
}
