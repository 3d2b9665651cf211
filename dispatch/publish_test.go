package dispatch

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/metrics"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

type recordingSender struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (s *recordingSender) SendTo(ip net.IP, port uint16, datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datagrams = append(s.datagrams, append([]byte(nil), datagram...))
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datagrams)
}

func TestPublisherPublishSkipsWithoutSubscribers(t *testing.T) {
	roster := NewRoster()
	sender := &recordingSender{}
	p := NewPublisher(logx.Noop(), metrics.New("test"), roster, sender, 0)

	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	if err := p.Publish(key, 1, 1, 1, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("sender got %d datagrams with no subscribers, want 0", sender.count())
	}
}

func TestPublisherPublishFansOutToEverySubscriber(t *testing.T) {
	roster := NewRoster()
	sender := &recordingSender{}
	p := NewPublisher(logx.Noop(), metrics.New("test"), roster, sender, 0)

	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	roster.Add(key, 1, sd.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1}, time.Now().Add(time.Minute))
	roster.Add(key, 1, sd.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 2}, time.Now().Add(time.Minute))

	if err := p.Publish(key, 1, 7, 1, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("sender got %d datagrams, want 2 (one per subscriber)", sender.count())
	}

	h, _, err := wire.Decode(sender.datagrams[0])
	if err != nil {
		t.Fatalf("decode sent datagram: %v", err)
	}
	if h.MessageType != wire.MessageTypeNotification {
		t.Fatalf("MessageType = %v, want Notification", h.MessageType)
	}
	if h.MethodID != 7|0x8000 {
		t.Fatalf("MethodID = 0x%04X, want event id with notification bit set", h.MethodID)
	}
}

func TestPublisherSessionIDsAreMonotonicPerService(t *testing.T) {
	p := NewPublisher(logx.Noop(), metrics.New("test2"), NewRoster(), &recordingSender{}, 0)
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}

	first := p.nextSession(key)
	second := p.nextSession(key)
	if second != first+1 {
		t.Fatalf("sessions = %d, %d; want strictly consecutive", first, second)
	}
}

func TestPublisherSegmentsLargePayload(t *testing.T) {
	roster := NewRoster()
	sender := &recordingSender{}
	p := NewPublisher(logx.Noop(), metrics.New("test3"), roster, sender, 8)

	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	roster.Add(key, 1, sd.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1}, time.Now().Add(time.Minute))

	payload := make([]byte, 40)
	if err := p.Publish(key, 1, 1, 1, payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if sender.count() <= 1 {
		t.Fatalf("sender got %d datagrams for a payload exceeding the MTU, want more than 1", sender.count())
	}
	h, _, err := wire.Decode(sender.datagrams[0])
	if err != nil {
		t.Fatalf("decode sent datagram: %v", err)
	}
	if !h.MessageType.IsTP() {
		t.Fatalf("MessageType = %v, want a TP variant", h.MessageType)
	}
}
