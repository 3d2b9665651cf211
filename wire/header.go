// Package wire implements the SOME/IP wire codec: the 16-byte message
// header, its message-type and return-code vocabularies, and the optional
// 4-byte TP header used by the segmentation layer in package tp.
package wire

import "fmt"

// HeaderSize is the fixed length of a SOME/IP header in bytes.
const HeaderSize = 16

// ProtocolVersion is the only protocol version this codec understands.
const ProtocolVersion = 0x01

// MessageType is the message_type byte of a SOME/IP header.
type MessageType uint8

const (
	MessageTypeRequest         MessageType = 0x00
	MessageTypeRequestNoReturn MessageType = 0x01
	MessageTypeNotification    MessageType = 0x02
	MessageTypeResponse        MessageType = 0x80
	MessageTypeError           MessageType = 0x81
	MessageTypeTPRequest       MessageType = 0x20
	MessageTypeTPResponse      MessageType = 0xA0
	MessageTypeTPNotification  MessageType = 0x22

	// tpFlag is the bit that marks a message as TP-segmented, shared by
	// MessageTypeTPRequest/TPResponse/TPNotification.
	tpFlag MessageType = 0x20
)

// IsTP reports whether m carries a TP header after the SOME/IP header.
func (m MessageType) IsTP() bool {
	return m&tpFlag != 0
}

// String renders known message types by name and unknown ones numerically,
// since vendor peers are allowed to add message types we must still forward.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeRequestNoReturn:
		return "REQUEST_NO_RETURN"
	case MessageTypeNotification:
		return "NOTIFICATION"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeError:
		return "ERROR"
	case MessageTypeTPRequest:
		return "TP_REQUEST"
	case MessageTypeTPResponse:
		return "TP_RESPONSE"
	case MessageTypeTPNotification:
		return "TP_NOTIFICATION"
	default:
		return fmt.Sprintf("MessageType(0x%02X)", uint8(m))
	}
}

// ReturnCode is the return_code byte of a SOME/IP header.
type ReturnCode uint8

const (
	ReturnCodeOK              ReturnCode = 0x00
	ReturnCodeNotOK           ReturnCode = 0x01
	ReturnCodeUnknownService  ReturnCode = 0x02
	ReturnCodeUnknownMethod   ReturnCode = 0x03
	ReturnCodeNotReady        ReturnCode = 0x04
	ReturnCodeNotReachable    ReturnCode = 0x05
	ReturnCodeTimeout         ReturnCode = 0x06
	ReturnCodeWrongProtocol   ReturnCode = 0x07
	ReturnCodeWrongInterface  ReturnCode = 0x08
	ReturnCodeMalformedMsg    ReturnCode = 0x09
	ReturnCodeWrongMessage    ReturnCode = 0x0A
	ReturnCodeUnknownSession  ReturnCode = 0x0C
)

func (r ReturnCode) String() string {
	switch r {
	case ReturnCodeOK:
		return "OK"
	case ReturnCodeNotOK:
		return "NOT_OK"
	case ReturnCodeUnknownService:
		return "UNKNOWN_SERVICE"
	case ReturnCodeUnknownMethod:
		return "UNKNOWN_METHOD"
	case ReturnCodeNotReady:
		return "NOT_READY"
	default:
		return fmt.Sprintf("ReturnCode(0x%02X)", uint8(r))
	}
}

// Header is the decoded form of a SOME/IP 16-byte header. Length is not
// stored: it is always derived from the payload on Encode and validated
// against the wire bytes on Decode (invariant I1 in spec.md §3).
type Header struct {
	ServiceID        uint16
	MethodID         uint16
	ClientID         uint16
	SessionID        uint16
	ProtocolVersion  uint8
	InterfaceVersion uint8
	MessageType      MessageType
	ReturnCode       ReturnCode
}

// MessageID packs ServiceID/MethodID into the combined identifier used to
// route inbound messages to handlers or TP assembly buffers.
func (h Header) MessageID() uint32 {
	return uint32(h.ServiceID)<<16 | uint32(h.MethodID)
}

// RequestID packs ClientID/SessionID into the combined identifier used for
// request/response correlation (spec.md §3, pending request table).
func (h Header) RequestID() uint32 {
	return uint32(h.ClientID)<<16 | uint32(h.SessionID)
}

// IsEvent reports whether MethodID's top bit marks this as an event id
// rather than a plain method id, per the SOME/IP convention in spec.md §3.
func (h Header) IsEvent() bool {
	return h.MethodID&0x8000 != 0
}
