package sd

import (
	"encoding/binary"
	"fmt"

	"github.com/someip-go/someip/wire"
)

// Flag bits in the SD message's flags byte, per spec.md §3/§4.4.
const (
	FlagReboot          uint8 = 0x80
	FlagUnicastSupported uint8 = 0x40
)

// Message is a decoded SD body (spec.md §4.3): flags byte, 3 reserved
// bytes, entries array, options array.
type Message struct {
	Reboot           bool
	UnicastSupported bool
	Entries          []Entry
	Options          []Option
}

// Header returns the fixed SOME/IP header every SD message carries.
func Header() wire.Header {
	return wire.Header{
		ServiceID:        SDServiceID,
		MethodID:         SDMethodID,
		ClientID:         SDClientID,
		SessionID:        0, // caller fills in via the reactor's session counter
		ProtocolVersion:  wire.ProtocolVersion,
		InterfaceVersion: SDInterfaceVersion,
		MessageType:      wire.MessageTypeNotification,
		ReturnCode:       wire.ReturnCodeOK,
	}
}

// EncodeBody serializes the SD body (everything after the SOME/IP header):
// flags, 3 reserved bytes, entries_length, entries, options_length,
// options.
func EncodeBody(m Message) ([]byte, error) {
	var flags uint8
	if m.Reboot {
		flags |= FlagReboot
	}
	if m.UnicastSupported {
		flags |= FlagUnicastSupported
	}

	entriesBuf := make([]byte, 0, len(m.Entries)*entrySize)
	for _, e := range m.Entries {
		entriesBuf = append(entriesBuf, EncodeEntry(e)...)
	}

	optionsBuf := make([]byte, 0)
	for _, o := range m.Options {
		encoded, err := EncodeOption(o)
		if err != nil {
			return nil, err
		}
		optionsBuf = append(optionsBuf, encoded...)
	}

	buf := make([]byte, 0, 8+len(entriesBuf)+4+len(optionsBuf))
	buf = append(buf, flags, 0, 0, 0)

	entriesLen := make([]byte, 4)
	binary.BigEndian.PutUint32(entriesLen, uint32(len(entriesBuf)))
	buf = append(buf, entriesLen...)
	buf = append(buf, entriesBuf...)

	optionsLen := make([]byte, 4)
	binary.BigEndian.PutUint32(optionsLen, uint32(len(optionsBuf)))
	buf = append(buf, optionsLen...)
	buf = append(buf, optionsBuf...)

	return buf, nil
}

// DecodeBody parses an SD body produced by EncodeBody.
func DecodeBody(b []byte) (Message, error) {
	if len(b) < 8 {
		return Message{}, fmt.Errorf("someip/sd: body too short: %d bytes", len(b))
	}
	flags := b[0]
	m := Message{
		Reboot:           flags&FlagReboot != 0,
		UnicastSupported: flags&FlagUnicastSupported != 0,
	}

	entriesLen := binary.BigEndian.Uint32(b[4:8])
	cursor := 8
	if cursor+int(entriesLen) > len(b) {
		return Message{}, fmt.Errorf("someip/sd: entries_length %d exceeds body", entriesLen)
	}
	entriesEnd := cursor + int(entriesLen)
	for cursor < entriesEnd {
		if cursor+entrySize > entriesEnd {
			return Message{}, fmt.Errorf("someip/sd: truncated entry at offset %d", cursor)
		}
		e, err := DecodeEntry(b[cursor : cursor+entrySize])
		if err != nil {
			return Message{}, err
		}
		m.Entries = append(m.Entries, e)
		cursor += entrySize
	}

	if cursor+4 > len(b) {
		return Message{}, fmt.Errorf("someip/sd: missing options_length")
	}
	optionsLen := binary.BigEndian.Uint32(b[cursor : cursor+4])
	cursor += 4
	if cursor+int(optionsLen) > len(b) {
		return Message{}, fmt.Errorf("someip/sd: options_length %d exceeds body", optionsLen)
	}
	optionsEnd := cursor + int(optionsLen)
	for cursor < optionsEnd {
		opt, n, err := DecodeOption(b[cursor:optionsEnd])
		if err != nil {
			return Message{}, err
		}
		m.Options = append(m.Options, opt)
		cursor += n
	}

	return m, nil
}
