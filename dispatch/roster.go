package dispatch

import (
	"sync"
	"time"

	"github.com/someip-go/someip/sd"
)

// eventgroupKey identifies one (service, eventgroup) subscription list.
type eventgroupKey struct {
	Service    sd.ServiceKey
	Eventgroup uint16
}

// Subscriber is one active eventgroup subscriber.
type Subscriber struct {
	Endpoint    sd.Endpoint
	TTLDeadline time.Time
}

func (s Subscriber) key() string { return s.Endpoint.IP.String() + ":" + portString(s.Endpoint.Port) }

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Roster tracks eventgroup subscribers for every locally offered service,
// fed by sd.Hooks.SubscriberAdded/SubscriberRemoved, and consulted by
// Publisher on every Notify call.
type Roster struct {
	mu   sync.RWMutex
	subs map[eventgroupKey]map[string]Subscriber
}

// NewRoster constructs an empty Roster.
func NewRoster() *Roster {
	return &Roster{subs: make(map[eventgroupKey]map[string]Subscriber)}
}

// Add registers or refreshes a subscriber for (key, eventgroupID).
func (r *Roster) Add(key sd.ServiceKey, eventgroupID uint16, endpoint sd.Endpoint, ttlDeadline time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ek := eventgroupKey{Service: key, Eventgroup: eventgroupID}
	subs, ok := r.subs[ek]
	if !ok {
		subs = make(map[string]Subscriber)
		r.subs[ek] = subs
	}
	sub := Subscriber{Endpoint: endpoint, TTLDeadline: ttlDeadline}
	subs[sub.key()] = sub
}

// Remove drops one subscriber from (key, eventgroupID).
func (r *Roster) Remove(key sd.ServiceKey, eventgroupID uint16, endpoint sd.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ek := eventgroupKey{Service: key, Eventgroup: eventgroupID}
	if subs, ok := r.subs[ek]; ok {
		delete(subs, Subscriber{Endpoint: endpoint}.key())
		if len(subs) == 0 {
			delete(r.subs, ek)
		}
	}
}

// Subscribers returns a snapshot of the current subscribers for
// (key, eventgroupID).
func (r *Roster) Subscribers(key sd.ServiceKey, eventgroupID uint16) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.subs[eventgroupKey{Service: key, Eventgroup: eventgroupID}]
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// ExpireTTL drops every subscriber whose TTL has elapsed by now, returning
// how many were dropped (spec.md §4.4 TTL semantics applied to
// subscriptions, not just offers).
func (r *Roster) ExpireTTL(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for ek, subs := range r.subs {
		for id, s := range subs {
			if !now.Before(s.TTLDeadline) {
				delete(subs, id)
				dropped++
			}
		}
		if len(subs) == 0 {
			delete(r.subs, ek)
		}
	}
	return dropped
}

// Count reports how many subscribers are registered across every
// eventgroup, for metrics.
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
