package sd

import (
	"encoding/binary"
	"fmt"
)

// EntryType is the wire type byte of an SD entry. SOME/IP conveys
// StopOfferService/StopSubscribeEventgroup via TTL=0 on an Offer/Subscribe
// entry rather than a distinct type byte; Kind() below exposes the logical
// six-way vocabulary spec.md §3 describes ("Entry kinds: FindService,
// OfferService, StopOfferService, SubscribeEventgroup,
// SubscribeEventgroupAck, StopSubscribeEventgroup").
type EntryType uint8

const (
	EntryTypeFindService  EntryType = 0x00
	EntryTypeOfferService EntryType = 0x01
	EntryTypeSubscribe    EntryType = 0x06
	EntryTypeSubscribeAck EntryType = 0x07
)

// Kind is the logical entry kind spec.md §3 names.
type Kind int

const (
	KindFindService Kind = iota
	KindOfferService
	KindStopOfferService
	KindSubscribeEventgroup
	KindSubscribeEventgroupAck
	KindStopSubscribeEventgroup
)

// entrySize is the fixed length of one SD entry on the wire.
const entrySize = 16

// Entry is a decoded SD entry (spec.md §3, §4.3).
type Entry struct {
	Type EntryType

	Index1stOptions uint8
	Index2ndOptions uint8
	Num1stOptions   uint8
	Num2ndOptions   uint8

	ServiceID  uint16
	InstanceID uint16
	MajorVersion uint8
	TTL        uint32 // 24-bit field on the wire; TTLInfinite/TTLStop are sentinels

	// Service entries (Find/Offer) only:
	MinorVersion uint32

	// Eventgroup entries (Subscribe/SubscribeAck) only:
	EventgroupID uint16
	Counter      uint8
}

// Kind derives the logical kind of e, per the TTL=0-means-stop convention.
func (e Entry) Kind() Kind {
	switch e.Type {
	case EntryTypeFindService:
		return KindFindService
	case EntryTypeOfferService:
		if e.TTL == TTLStop {
			return KindStopOfferService
		}
		return KindOfferService
	case EntryTypeSubscribe:
		if e.TTL == TTLStop {
			return KindStopSubscribeEventgroup
		}
		return KindSubscribeEventgroup
	case EntryTypeSubscribeAck:
		return KindSubscribeEventgroupAck
	default:
		return -1
	}
}

func (k Kind) IsServiceEntry() bool {
	return k == KindFindService || k == KindOfferService || k == KindStopOfferService
}

// EncodeEntry serializes e to its fixed 16-byte wire form.
func EncodeEntry(e Entry) []byte {
	buf := make([]byte, entrySize)
	buf[0] = byte(e.Type)
	buf[1] = e.Index1stOptions
	buf[2] = e.Index2ndOptions
	buf[3] = (e.Num1stOptions << 4) | (e.Num2ndOptions & 0x0F)
	binary.BigEndian.PutUint16(buf[4:6], e.ServiceID)
	binary.BigEndian.PutUint16(buf[6:8], e.InstanceID)
	buf[8] = e.MajorVersion
	put24(buf[9:12], e.TTL)

	switch e.Type {
	case EntryTypeFindService, EntryTypeOfferService:
		binary.BigEndian.PutUint32(buf[12:16], e.MinorVersion)
	case EntryTypeSubscribe, EntryTypeSubscribeAck:
		buf[12] = 0
		buf[13] = e.Counter & 0x0F
		binary.BigEndian.PutUint16(buf[14:16], e.EventgroupID)
	}
	return buf
}

// DecodeEntry parses one 16-byte SD entry.
func DecodeEntry(b []byte) (Entry, error) {
	if len(b) < entrySize {
		return Entry{}, fmt.Errorf("someip/sd: entry too short: %d bytes", len(b))
	}
	e := Entry{
		Type:            EntryType(b[0]),
		Index1stOptions: b[1],
		Index2ndOptions: b[2],
		Num1stOptions:   b[3] >> 4,
		Num2ndOptions:   b[3] & 0x0F,
		ServiceID:       binary.BigEndian.Uint16(b[4:6]),
		InstanceID:      binary.BigEndian.Uint16(b[6:8]),
		MajorVersion:    b[8],
		TTL:             get24(b[9:12]),
	}
	switch e.Type {
	case EntryTypeFindService, EntryTypeOfferService:
		e.MinorVersion = binary.BigEndian.Uint32(b[12:16])
	case EntryTypeSubscribe, EntryTypeSubscribeAck:
		e.Counter = b[13] & 0x0F
		e.EventgroupID = binary.BigEndian.Uint16(b[14:16])
	}
	return e, nil
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
