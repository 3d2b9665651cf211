package sd

import (
	"net"
	"time"
)

// HandleIncoming processes one received SD message from sender (its string
// form, e.g. "192.168.1.5:30490") arriving on channel (unicast vs the
// multicast group), applying §4.4's Offer/StopOffer/Find/Subscribe/
// SubscribeAck/StopSubscribe semantics and returning any Actions the
// reactor must send in response (e.g. a SubscribeEventgroupAck).
func (m *Machine) HandleIncoming(now time.Time, sender string, channel Channel, reboot bool, sessionID uint16, msg Message) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reboots.Observe(sender, channel, reboot, sessionID) {
		m.invalidateFromSenderLocked(sender)
		if m.hooks.RebootDetected != nil {
			m.hooks.RebootDetected(sender)
		}
	}

	endpoint := firstEndpoint(msg.Options)

	var actions []Action
	for _, e := range msg.Entries {
		switch e.Kind() {
		case KindOfferService:
			m.handleOfferLocked(now, e, endpoint)
		case KindStopOfferService:
			m.handleStopOfferLocked(e.serviceKey())
		case KindFindService:
			if a := m.handleFindLocked(e); a != nil {
				actions = append(actions, *a)
			}
		case KindSubscribeEventgroup:
			if a := m.handleSubscribeLocked(now, e, endpoint); a != nil {
				actions = append(actions, *a)
			}
		case KindStopSubscribeEventgroup:
			m.handleStopSubscribeLocked(e, endpoint)
		case KindSubscribeEventgroupAck:
			m.handleSubscribeAckLocked(e)
		}
	}
	return actions
}

func (e Entry) serviceKey() ServiceKey {
	return ServiceKey{ServiceID: e.ServiceID, InstanceID: e.InstanceID}
}

func firstEndpoint(opts []Option) Endpoint {
	for _, o := range opts {
		if o.Endpoint != nil {
			return *o.Endpoint
		}
	}
	return Endpoint{}
}

// handleOfferLocked inserts or refreshes a RemoteService on Offer receipt,
// per spec.md §4.4: "insert or refresh RemoteService, reset its TTL
// deadline to now + offer.ttl".
func (m *Machine) handleOfferLocked(now time.Time, e Entry, endpoint Endpoint) {
	key := e.serviceKey()
	deadline := ttlDeadline(now, e.TTL)

	rs, existed := m.remotes[key]
	if !existed {
		rs = &RemoteService{Key: key, Subscriptions: make(map[uint16]struct{})}
		m.remotes[key] = rs
	}
	rs.Endpoint = endpoint
	rs.Major = e.MajorVersion
	rs.Minor = e.MinorVersion
	rs.TTLDeadline = deadline

	if f, ok := m.finds[key]; ok && f.major == e.MajorVersion {
		f.found = true
	}

	if m.hooks.ServiceAvailable != nil {
		m.hooks.ServiceAvailable(*rs)
	}
}

func (m *Machine) handleStopOfferLocked(key ServiceKey) {
	if _, ok := m.remotes[key]; !ok {
		return
	}
	delete(m.remotes, key)
	if f, ok := m.finds[key]; ok {
		f.found = false
	}
	if m.hooks.ServiceUnavailable != nil {
		m.hooks.ServiceUnavailable(key)
	}
}

// handleFindLocked lets a provider answer an incoming Find for a service it
// currently offers, per invariant I3 (only transmitted while offered).
func (m *Machine) handleFindLocked(e Entry) *Action {
	key := e.serviceKey()
	o, ok := m.localOffers[key]
	if !ok || !o.offered {
		return nil
	}
	return &Action{Kind: ActionSendMulticast, Message: Message{
		Entries: []Entry{{
			Type: EntryTypeOfferService, Num1stOptions: uint8(len(o.endpoints)),
			ServiceID: key.ServiceID, InstanceID: key.InstanceID,
			MajorVersion: o.major, TTL: o.ttl, MinorVersion: o.minor,
		}},
		Options: endpointOptions(o.endpoints),
	}}
}

// handleSubscribeLocked validates a SubscribeEventgroup request against the
// local offer via Hooks.ValidateSubscribe and replies with a positive or
// negative (TTL=0) Ack, per spec.md §4.4.
func (m *Machine) handleSubscribeLocked(now time.Time, e Entry, endpoint Endpoint) *Action {
	key := e.serviceKey()
	accepted := m.hooks.ValidateSubscribe != nil && m.hooks.ValidateSubscribe(key, e.EventgroupID, e.MajorVersion)

	ttl := e.TTL
	if accepted {
		if m.hooks.SubscriberAdded != nil {
			m.hooks.SubscriberAdded(key, e.EventgroupID, endpoint, ttlDeadline(now, e.TTL))
		}
	} else {
		ttl = TTLStop
	}

	return &Action{Kind: ActionSendUnicast, Target: endpoint, Message: Message{
		Entries: []Entry{{
			Type: EntryTypeSubscribeAck, ServiceID: key.ServiceID, InstanceID: key.InstanceID,
			MajorVersion: e.MajorVersion, TTL: ttl, EventgroupID: e.EventgroupID, Counter: e.Counter,
		}},
	}}
}

func (m *Machine) handleStopSubscribeLocked(e Entry, endpoint Endpoint) {
	key := e.serviceKey()
	if m.hooks.SubscriberRemoved != nil {
		m.hooks.SubscriberRemoved(key, e.EventgroupID, endpoint)
	}
}

func (m *Machine) handleSubscribeAckLocked(e Entry) {
	key := e.serviceKey()
	accepted := e.TTL != TTLStop
	if rs, ok := m.remotes[key]; ok && accepted {
		rs.Subscriptions[e.EventgroupID] = struct{}{}
	}
	if m.hooks.SubscriptionAcked != nil {
		m.hooks.SubscriptionAcked(key, e.EventgroupID, accepted)
	}
}

// invalidateFromSenderLocked drops every remote service whose endpoint
// matches sender and restarts discovery for any tracked consumer, per
// spec.md §4.4's reboot-detection paragraph.
func (m *Machine) invalidateFromSenderLocked(sender string) {
	senderIP := sender
	if host, _, err := net.SplitHostPort(sender); err == nil {
		senderIP = host
	}
	for key, rs := range m.remotes {
		if endpointString(rs.Endpoint) != senderIP {
			continue
		}
		delete(m.remotes, key)
		if f, ok := m.finds[key]; ok {
			f.found = false
		}
		if m.hooks.ServiceUnavailable != nil {
			m.hooks.ServiceUnavailable(key)
		}
	}
}

func endpointString(ep Endpoint) string {
	if ep.IP == nil {
		return ""
	}
	return ep.IP.String()
}

func ttlDeadline(now time.Time, ttl uint32) time.Time {
	if ttl == TTLInfinite {
		return now.Add(100 * 365 * 24 * time.Hour)
	}
	return now.Add(time.Duration(ttl) * time.Second)
}
