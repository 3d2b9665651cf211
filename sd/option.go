package sd

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Option type bytes, per spec.md §4.3.
const (
	OptionTypeIPv4Endpoint uint8 = 0x04
	OptionTypeIPv6Endpoint uint8 = 0x06
)

// Option-length invariant (spec.md §3): the length field *includes* the
// type byte, so IPv4 endpoint options report length 0x000A and IPv6
// endpoint options report length 0x0016, even though the type byte itself
// is not part of the "length" payload that follows it. Decoders must
// advance by length+2 (the 2-byte length field itself, plus the length
// value which already counts the type byte).
const (
	ipv4EndpointOptionLength = 0x000A
	ipv6EndpointOptionLength = 0x0016
)

// Option is a decoded SD option. Only endpoint options are modeled; other
// option types (configuration, load balancing) are out of SPEC_FULL.md's
// scope and are preserved as RawType/RawBody for forwarding.
type Option struct {
	Endpoint *Endpoint // non-nil for IPv4/IPv6 endpoint options
	IsIPv6   bool

	RawType uint8  // set when this option is not a recognized endpoint option
	RawBody []byte // the bytes following the type byte, for unknown types
}

// EncodeOption serializes one option, returning its bytes including the
// 2-byte length field and the type byte.
func EncodeOption(o Option) ([]byte, error) {
	if o.Endpoint != nil {
		return encodeEndpointOption(*o.Endpoint, o.IsIPv6)
	}
	buf := make([]byte, 2+1+len(o.RawBody))
	binary.BigEndian.PutUint16(buf[0:2], uint16(1+len(o.RawBody)))
	buf[2] = o.RawType
	copy(buf[3:], o.RawBody)
	return buf, nil
}

func encodeEndpointOption(ep Endpoint, isIPv6 bool) ([]byte, error) {
	if isIPv6 {
		ip16 := ep.IP.To16()
		if ip16 == nil {
			return nil, fmt.Errorf("someip/sd: endpoint IP %v is not a valid IPv6 address", ep.IP)
		}
		buf := make([]byte, 2+ipv6EndpointOptionLength)
		binary.BigEndian.PutUint16(buf[0:2], ipv6EndpointOptionLength)
		buf[2] = OptionTypeIPv6Endpoint
		buf[3] = 0 // reserved
		copy(buf[4:20], ip16)
		buf[20] = byte(ep.Protocol)
		binary.BigEndian.PutUint16(buf[21:23], ep.Port)
		return buf, nil
	}

	ip4 := ep.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("someip/sd: endpoint IP %v is not a valid IPv4 address", ep.IP)
	}
	buf := make([]byte, 2+ipv4EndpointOptionLength)
	binary.BigEndian.PutUint16(buf[0:2], ipv4EndpointOptionLength)
	buf[2] = OptionTypeIPv4Endpoint
	buf[3] = 0 // reserved
	copy(buf[4:8], ip4)
	buf[8] = byte(ep.Protocol)
	binary.BigEndian.PutUint16(buf[9:11], ep.Port)
	return buf, nil
}

// DecodeOption parses one option starting at b[0] and returns the decoded
// Option plus the number of bytes consumed (length+2, per the
// length-includes-type-byte invariant above).
func DecodeOption(b []byte) (Option, int, error) {
	if len(b) < 3 {
		return Option{}, 0, fmt.Errorf("someip/sd: option too short: %d bytes", len(b))
	}
	length := binary.BigEndian.Uint16(b[0:2])
	consumed := int(length) + 2
	if consumed > len(b) {
		return Option{}, 0, fmt.Errorf("someip/sd: option declares length %d beyond buffer (%d bytes available)", length, len(b)-2)
	}

	optType := b[2]
	body := b[3:consumed]

	switch optType {
	case OptionTypeIPv4Endpoint:
		if length != ipv4EndpointOptionLength {
			return Option{}, 0, fmt.Errorf("someip/sd: IPv4 endpoint option has wrong length 0x%04X", length)
		}
		// body: 1 reserved byte, 4 IP bytes, 1 proto byte, 2 port bytes.
		ip := net.IPv4(body[1], body[2], body[3], body[4])
		proto := L4Proto(body[5])
		port := binary.BigEndian.Uint16(body[6:8])
		return Option{Endpoint: &Endpoint{IP: ip, Port: port, Protocol: proto}}, consumed, nil

	case OptionTypeIPv6Endpoint:
		if length != ipv6EndpointOptionLength {
			return Option{}, 0, fmt.Errorf("someip/sd: IPv6 endpoint option has wrong length 0x%04X", length)
		}
		ip := make(net.IP, 16)
		copy(ip, body[1:17])
		proto := L4Proto(body[17])
		port := binary.BigEndian.Uint16(body[18:20])
		return Option{Endpoint: &Endpoint{IP: ip, Port: port, Protocol: proto}, IsIPv6: true}, consumed, nil

	default:
		raw := make([]byte, len(body))
		copy(raw, body)
		return Option{RawType: optType, RawBody: raw}, consumed, nil
	}
}
