package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/someip-go/someip/sd"
)

func TestRosterAddAndSubscribers(t *testing.T) {
	r := NewRoster()
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	ep := sd.Endpoint{IP: net.ParseIP("192.168.1.10"), Port: 30501}

	r.Add(key, 5, ep, time.Now().Add(time.Minute))

	subs := r.Subscribers(key, 5)
	if len(subs) != 1 {
		t.Fatalf("len(Subscribers) = %d, want 1", len(subs))
	}
	if !subs[0].Endpoint.IP.Equal(ep.IP) || subs[0].Endpoint.Port != ep.Port {
		t.Fatalf("Subscribers()[0].Endpoint = %+v, want %+v", subs[0].Endpoint, ep)
	}
}

func TestRosterAddRefreshesExistingSubscriber(t *testing.T) {
	r := NewRoster()
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	ep := sd.Endpoint{IP: net.ParseIP("192.168.1.10"), Port: 30501}

	r.Add(key, 5, ep, time.Now().Add(time.Minute))
	r.Add(key, 5, ep, time.Now().Add(time.Hour))

	subs := r.Subscribers(key, 5)
	if len(subs) != 1 {
		t.Fatalf("len(Subscribers) = %d after re-Add, want 1", len(subs))
	}
}

func TestRosterRemove(t *testing.T) {
	r := NewRoster()
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	ep := sd.Endpoint{IP: net.ParseIP("192.168.1.10"), Port: 30501}

	r.Add(key, 5, ep, time.Now().Add(time.Minute))
	r.Remove(key, 5, ep)

	if subs := r.Subscribers(key, 5); len(subs) != 0 {
		t.Fatalf("len(Subscribers) = %d after Remove, want 0", len(subs))
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after removing the only subscriber, want 0", r.Count())
	}
}

func TestRosterExpireTTL(t *testing.T) {
	r := NewRoster()
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	live := sd.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1}
	expired := sd.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 2}

	now := time.Now()
	r.Add(key, 5, live, now.Add(time.Hour))
	r.Add(key, 5, expired, now.Add(-time.Second))

	dropped := r.ExpireTTL(now)
	if dropped != 1 {
		t.Fatalf("ExpireTTL() = %d, want 1", dropped)
	}
	subs := r.Subscribers(key, 5)
	if len(subs) != 1 || !subs[0].Endpoint.IP.Equal(live.IP) {
		t.Fatalf("Subscribers() after ExpireTTL = %+v, want only %v", subs, live)
	}
}

func TestRosterDistinctEventgroupsIsolated(t *testing.T) {
	r := NewRoster()
	key := sd.ServiceKey{ServiceID: 1, InstanceID: 1}
	ep := sd.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1}

	r.Add(key, 1, ep, time.Now().Add(time.Minute))

	if subs := r.Subscribers(key, 2); len(subs) != 0 {
		t.Fatalf("Subscribers() for a different eventgroup = %v, want empty", subs)
	}
}
