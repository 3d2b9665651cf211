package dispatch

import (
	"net"
	"sync"

	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/metrics"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/tp"
	"github.com/someip-go/someip/wire"
)

// Sender is implemented by reactor.Reactor: a raw pre-encoded-datagram send
// to one endpoint, used by Publisher so dispatch never imports reactor.
type Sender interface {
	SendTo(ip net.IP, port uint16, datagram []byte) error
}

// Publisher implements the event-publish half of spec.md §4.6: fan a
// NOTIFICATION out to every roster subscriber of (service, eventgroup),
// segmenting via TP when the payload exceeds the configured MTU.
//
// Per the Open Question resolution in DESIGN.md, the event session_id
// counter is per-service (shared across all of that service's
// eventgroups), not per-eventgroup.
type Publisher struct {
	log       logx.Logger
	stats     *metrics.Collectors
	roster    *Roster
	sender    Sender
	segmenter *tp.Segmenter

	mu       sync.Mutex
	sessions map[sd.ServiceKey]uint16
}

// NewPublisher constructs a Publisher. mtuPayload <= 0 uses
// tp.DefaultMTUPayload.
func NewPublisher(log logx.Logger, stats *metrics.Collectors, roster *Roster, sender Sender, mtuPayload int) *Publisher {
	if mtuPayload <= 0 {
		mtuPayload = tp.DefaultMTUPayload
	}
	return &Publisher{
		log: log, stats: stats, roster: roster, sender: sender,
		segmenter: &tp.Segmenter{MTUPayload: mtuPayload},
		sessions:  make(map[sd.ServiceKey]uint16),
	}
}

// nextSession returns the next per-service event session id, wrapping
// 1..=0xFFFF and skipping 0 like the reactor's request session allocator.
func (p *Publisher) nextSession(key sd.ServiceKey) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.sessions[key] + 1
	if next == 0 {
		next = 1
	}
	p.sessions[key] = next
	return next
}

// Publish sends payload as a NOTIFICATION for (key, eventID) to every
// subscriber of eventgroupID, returning the first send error encountered
// (subsequent subscribers are still attempted).
func (p *Publisher) Publish(key sd.ServiceKey, eventgroupID, eventID uint16, interfaceVersion uint8, payload []byte) error {
	subscribers := p.roster.Subscribers(key, eventgroupID)
	if len(subscribers) == 0 {
		return nil
	}

	sessionID := p.nextSession(key)
	h := wire.Header{
		ServiceID: key.ServiceID, MethodID: eventID | 0x8000,
		ClientID: 0, SessionID: sessionID,
		ProtocolVersion: wire.ProtocolVersion, InterfaceVersion: interfaceVersion,
		MessageType: wire.MessageTypeNotification, ReturnCode: wire.ReturnCodeOK,
	}

	datagrams := p.encode(h, payload)

	var firstErr error
	for _, sub := range subscribers {
		for _, datagram := range datagrams {
			if err := p.sender.SendTo(sub.Endpoint.IP, sub.Endpoint.Port, datagram); err != nil {
				p.log.Warn("notify subscriber %v: %v", sub.Endpoint.IP, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if p.stats != nil {
				p.stats.EventsPublished.Inc()
			}
		}
	}
	return firstErr
}

// encode returns one or more ready-to-send datagrams for h/payload,
// splitting into TP segments when payload exceeds the segmenter's MTU.
func (p *Publisher) encode(h wire.Header, payload []byte) [][]byte {
	segments := p.segmenter.Split(payload)
	if len(segments) == 1 && len(payload) <= p.segmenter.MTUPayload {
		return [][]byte{wire.Encode(h, payload)}
	}

	datagrams := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		segHeader := h
		segHeader.MessageType = wire.MessageTypeTPNotification
		body := append(wire.EncodeTPHeader(seg.Header), seg.Payload...)
		datagrams = append(datagrams, wire.Encode(segHeader, body))
	}
	return datagrams
}
