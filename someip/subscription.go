package someip

import (
	"sync"

	"github.com/someip-go/someip/sd"
)

// Subscription is returned by Runtime.Subscribe; Unsubscribe withdraws it.
type Subscription struct {
	discoveryKey sd.ServiceKey // full key, for the StopSubscribe SD exchange
	wireKey      sd.ServiceKey // service_id only, matches the local delivery table
	eventgroup   uint16
	id           uint64
	r            *Runtime
}

// Unsubscribe stops delivering events to this Subscription's callback and,
// if no local callback remains for the service, sends a
// StopSubscribeEventgroup for this Subscription's eventgroup. While other
// callbacks for the service remain, no StopSubscribeEventgroup is sent,
// whichever eventgroups they subscribed to.
func (s Subscription) Unsubscribe() {
	last := s.r.subscriptions.remove(s.wireKey, s.eventgroup, s.id)
	if !last {
		return
	}
	endpoint := sd.Endpoint{IP: s.r.rx.LocalAddr().IP, Port: uint16(s.r.rx.LocalAddr().Port), Protocol: sd.ProtoUDP}
	if a, ok := s.r.sdMachine.StopSubscribe(s.discoveryKey, s.eventgroup, endpoint); ok {
		s.r.rx.SendSD(a)
	}
}

type subscriptionEntry struct {
	id uint64
	cb func(Event)
}

type subscriptionKey struct {
	Key        sd.ServiceKey
	Eventgroup uint16
}

// subscriptionTable fans an incoming event out to every local callback
// registered for its service, whatever eventgroup each callback was
// subscribed with (a NOTIFICATION does not carry its eventgroup), mirroring
// the shape of
// dispatch.Roster but for Runtime-local delivery rather than wire
// subscribers.
type subscriptionTable struct {
	mu     sync.RWMutex
	nextID uint64
	byKey  map[sd.ServiceKey][]subscriptionEntry
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{byKey: make(map[sd.ServiceKey][]subscriptionEntry)}
}

func (t *subscriptionTable) add(key sd.ServiceKey, eventgroup uint16, cb func(Event)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byKey[key] = append(t.byKey[key], subscriptionEntry{id: id, cb: cb})
	return id
}

// remove drops the entry with id and reports whether key now has zero
// local subscribers left, across all eventgroups; eventgroup is not
// consulted.
func (t *subscriptionTable) remove(key sd.ServiceKey, eventgroup uint16, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.byKey[key]
	for i, e := range entries {
		if e.id == id {
			t.byKey[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return len(t.byKey[key]) == 0
}

func (t *subscriptionTable) dispatch(key sd.ServiceKey, ev Event) {
	t.mu.RLock()
	entries := append([]subscriptionEntry(nil), t.byKey[key]...)
	t.mu.RUnlock()
	for _, e := range entries {
		e.cb(ev)
	}
}
