package sd_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

func TestIPv4EndpointOptionLengthInvariant(t *testing.T) {
	// P2: length byte low = 0x0A for IPv4, decoder advances by length+2.
	opt := sd.Option{Endpoint: &sd.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 30509, Protocol: sd.ProtoUDP}}
	encoded, err := sd.EncodeOption(opt)
	require.NoError(t, err)

	require.Len(t, encoded, 12)
	assert.Equal(t, byte(0x00), encoded[0], "length high byte")
	assert.Equal(t, byte(0x0A), encoded[1], "length low byte")
	assert.Equal(t, sd.OptionTypeIPv4Endpoint, encoded[2])

	decoded, consumed, err := sd.DecodeOption(encoded)
	require.NoError(t, err)
	assert.Equal(t, 12, consumed) // length(0x0A) + 2
	require.NotNil(t, decoded.Endpoint)
	assert.True(t, decoded.Endpoint.IP.Equal(net.ParseIP("127.0.0.1")))
	assert.Equal(t, uint16(30509), decoded.Endpoint.Port)
	assert.Equal(t, sd.ProtoUDP, decoded.Endpoint.Protocol)
}

func TestIPv6EndpointOptionLengthInvariant(t *testing.T) {
	ip := net.ParseIP("fe80::1")
	opt := sd.Option{Endpoint: &sd.Endpoint{IP: ip, Port: 30509, Protocol: sd.ProtoTCP}, IsIPv6: true}
	encoded, err := sd.EncodeOption(opt)
	require.NoError(t, err)

	require.Len(t, encoded, 24)
	assert.Equal(t, byte(0x00), encoded[0])
	assert.Equal(t, byte(0x16), encoded[1])
	assert.Equal(t, sd.OptionTypeIPv6Endpoint, encoded[2])

	decoded, consumed, err := sd.DecodeOption(encoded)
	require.NoError(t, err)
	assert.Equal(t, 24, consumed) // length(0x16) + 2
	require.NotNil(t, decoded.Endpoint)
	assert.True(t, decoded.Endpoint.IP.Equal(ip))
	assert.Equal(t, sd.ProtoTCP, decoded.Endpoint.Protocol)
}

func TestEntryRoundTrip(t *testing.T) {
	offer := sd.Entry{
		Type: sd.EntryTypeOfferService, ServiceID: 0x1001, InstanceID: 1,
		MajorVersion: 1, TTL: 3, MinorVersion: 0,
	}
	encoded := sd.EncodeEntry(offer)
	require.Len(t, encoded, 16)
	decoded, err := sd.DecodeEntry(encoded)
	require.NoError(t, err)
	assert.Equal(t, offer, decoded)
	assert.Equal(t, sd.KindOfferService, decoded.Kind())

	stopOffer := offer
	stopOffer.TTL = 0
	assert.Equal(t, sd.KindStopOfferService, stopOffer.Kind())

	sub := sd.Entry{
		Type: sd.EntryTypeSubscribe, ServiceID: 0x1001, InstanceID: 1,
		MajorVersion: 1, TTL: 5, EventgroupID: 0x10, Counter: 2,
	}
	encodedSub := sd.EncodeEntry(sub)
	decodedSub, err := sd.DecodeEntry(encodedSub)
	require.NoError(t, err)
	assert.Equal(t, sub, decodedSub)
	assert.Equal(t, sd.KindSubscribeEventgroup, decodedSub.Kind())
}

func TestOfferServiceWireCheck(t *testing.T) {
	// S2: SD offer wire check.
	h := sd.Header()
	m := sd.Message{
		UnicastSupported: true,
		Entries: []sd.Entry{{
			Type: sd.EntryTypeOfferService, Index1stOptions: 0, Num1stOptions: 1,
			ServiceID: 0x1001, InstanceID: 1, MajorVersion: 1, TTL: 3,
		}},
		Options: []sd.Option{{
			Endpoint: &sd.Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 30509, Protocol: sd.ProtoUDP},
		}},
	}

	body, err := sd.EncodeBody(m)
	require.NoError(t, err)
	datagram := wire.Encode(h, body)

	assert.Equal(t, []byte{0xFF, 0xFF}, datagram[0:2])
	assert.Equal(t, []byte{0x81, 0x00}, datagram[2:4])
	assert.Equal(t, byte(wire.MessageTypeNotification), datagram[14])

	gotHeader, gotBody, err := wire.Decode(datagram)
	require.NoError(t, err)
	assert.Equal(t, h.ServiceID, gotHeader.ServiceID)

	gotMsg, err := sd.DecodeBody(gotBody)
	require.NoError(t, err)
	require.Len(t, gotMsg.Entries, 1)
	assert.Equal(t, sd.KindOfferService, gotMsg.Entries[0].Kind())
	assert.Equal(t, uint16(0x1001), gotMsg.Entries[0].ServiceID)
	assert.Equal(t, uint16(1), gotMsg.Entries[0].InstanceID)

	require.Len(t, gotMsg.Options, 1)
	require.NotNil(t, gotMsg.Options[0].Endpoint)
	assert.Equal(t, uint16(30509), gotMsg.Options[0].Endpoint.Port)
}
