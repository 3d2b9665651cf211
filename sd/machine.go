package sd

import (
	"math/rand"
	"sync"
	"time"
)

// ActionKind distinguishes where an Action must be sent.
type ActionKind int

const (
	ActionSendMulticast ActionKind = iota
	ActionSendUnicast
)

// Action is one outbound SD datagram the reactor must send. Machine itself
// never touches a socket (spec.md §4.5: all socket I/O happens on the
// reactor thread); it only decides what to send and when.
type Action struct {
	Kind    ActionKind
	Message Message
	Target  Endpoint // meaningful only when Kind == ActionSendUnicast
}

// localOffer tracks one locally offered service through its phase
// schedule.
type localOffer struct {
	key       ServiceKey
	major     uint8
	minor     uint32
	ttl       uint32
	endpoints []Endpoint
	timer     phaseTimer
	offered   bool // state ∈ {idle, offered}, per the data model in spec.md §3
}

// findState tracks one required (consumed) service through Find.
type findState struct {
	key   ServiceKey
	major uint8
	timer phaseTimer
	found bool
}

// RemoteService mirrors the data model's RemoteService entry.
type RemoteService struct {
	Key           ServiceKey
	Endpoint      Endpoint
	Major         uint8
	Minor         uint32
	TTLDeadline   time.Time
	Subscriptions map[uint16]struct{} // eventgroup ids this runtime subscribes to
}

// Hooks lets the reactor/dispatch layers react to SD events without sd
// importing them (sd sits below reactor and dispatch in the dependency
// graph).
type Hooks struct {
	ServiceAvailable   func(svc RemoteService)
	ServiceUnavailable func(key ServiceKey)

	// ValidateSubscribe is asked whether a provider accepts a subscribe
	// request; a false return sends a negative Ack (TTL=0).
	ValidateSubscribe func(key ServiceKey, eventgroupID uint16, major uint8) bool
	SubscriberAdded   func(key ServiceKey, eventgroupID uint16, endpoint Endpoint, ttlDeadline time.Time)
	SubscriberRemoved func(key ServiceKey, eventgroupID uint16, endpoint Endpoint)
	SubscriptionAcked func(key ServiceKey, eventgroupID uint16, accepted bool)

	RebootDetected func(sender string)
}

// Machine implements component C4: the SD phase state machine for both
// locally offered services and required (consumed) services, the remote
// service table, and reboot detection.
type Machine struct {
	mu sync.Mutex

	timing timing
	rng    *rand.Rand
	hooks  Hooks

	localOffers map[ServiceKey]*localOffer
	finds       map[ServiceKey]*findState
	remotes     map[ServiceKey]*RemoteService
	reboots     *rebootTracker
}

// Option customizes Machine construction.
type Option func(*Machine)

// WithSeed fixes the Initial-Wait/Repetition jitter RNG's seed, producing a
// deterministic delay sequence. Intended for tests; production Machines
// should use the default (time-seeded) RNG so independent instances don't
// compute identical "random" jitter and reintroduce the bootstorm
// Initial-Wait exists to avoid.
func WithSeed(seed int64) Option {
	return func(m *Machine) { m.rng = rand.New(rand.NewSource(seed)) }
}

// NewMachine constructs a Machine with default SD timing, seeding its
// jitter RNG from the current time so that concurrent Machines (multiple
// Runtimes in one process, or independent nodes on a LAN) each draw a
// different Initial-Wait/Repetition delay sequence, per spec.md §4.4's
// "uniformly random delay... to de-synchronize bootstorms".
func NewMachine(hooks Hooks, opts ...Option) *Machine {
	m := &Machine{
		timing:      defaultTiming(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		hooks:       hooks,
		localOffers: make(map[ServiceKey]*localOffer),
		finds:       make(map[ServiceKey]*findState),
		remotes:     make(map[ServiceKey]*RemoteService),
		reboots:     newRebootTracker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OfferService registers a local service for advertisement, starting it in
// the Initial-Wait phase (spec.md §4.4 step 1). Per invariant I3 the
// service is only included in OfferService entries while offered==true,
// which is the case from this call until StopOffering.
func (m *Machine) OfferService(now time.Time, key ServiceKey, major uint8, minor uint32, ttl uint32, endpoints []Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.localOffers[key] = &localOffer{
		key: key, major: major, minor: minor, ttl: ttl, endpoints: endpoints,
		timer:   newPhaseTimer(now, m.timing, m.rng),
		offered: true,
	}
}

// StopOffering transitions a local service out of the offered state and
// returns the StopOfferService Action to flush immediately (best effort,
// per spec.md §5 shutdown semantics).
func (m *Machine) StopOffering(key ServiceKey) *Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.localOffers[key]
	if !ok || !o.offered {
		return nil
	}
	o.offered = false
	delete(m.localOffers, key)

	entry := Entry{
		Type: EntryTypeOfferService, ServiceID: key.ServiceID, InstanceID: key.InstanceID,
		MajorVersion: o.major, TTL: TTLStop, MinorVersion: o.minor,
	}
	return &Action{Kind: ActionSendMulticast, Message: Message{Entries: []Entry{entry}}}
}

// FindService registers a required service, starting Find on the same
// Initial-Wait/Repetition/Main schedule as local offers.
func (m *Machine) FindService(now time.Time, key ServiceKey, major uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finds[key] = &findState{
		key: key, major: major,
		timer: newPhaseTimer(now, m.timing, m.rng),
	}
}

// Subscribe builds a SubscribeEventgroup Action addressed to key's known
// remote endpoint, to be sent by the reactor. Returns false if key has not
// been discovered yet (the caller should FindService and retry once
// Hooks.ServiceAvailable fires).
func (m *Machine) Subscribe(key ServiceKey, eventgroupID uint16, ttl uint32, clientEndpoint Endpoint) (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.remotes[key]
	if !ok {
		return Action{}, false
	}
	return Action{Kind: ActionSendUnicast, Target: rs.Endpoint, Message: Message{
		Entries: []Entry{{
			Type: EntryTypeSubscribe, ServiceID: key.ServiceID, InstanceID: key.InstanceID,
			MajorVersion: rs.Major, TTL: ttl, EventgroupID: eventgroupID,
		}},
		Options: endpointOptions([]Endpoint{clientEndpoint}),
	}}, true
}

// StopSubscribe builds a StopSubscribeEventgroup (TTL=0) Action for key.
func (m *Machine) StopSubscribe(key ServiceKey, eventgroupID uint16, clientEndpoint Endpoint) (Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.remotes[key]
	if !ok {
		return Action{}, false
	}
	return Action{Kind: ActionSendUnicast, Target: rs.Endpoint, Message: Message{
		Entries: []Entry{{
			Type: EntryTypeSubscribe, ServiceID: key.ServiceID, InstanceID: key.InstanceID,
			MajorVersion: rs.Major, TTL: TTLStop, EventgroupID: eventgroupID,
		}},
		Options: endpointOptions([]Endpoint{clientEndpoint}),
	}}, true
}

// Lookup returns the current remote service entry for key, if known.
func (m *Machine) Lookup(key ServiceKey) (RemoteService, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.remotes[key]
	if !ok {
		return RemoteService{}, false
	}
	return *rs, true
}

// Tick advances every tracked phase timer that is due by now and applies
// due TTL expiries itself, returning the Actions the reactor must send.
func (m *Machine) Tick(now time.Time) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []Action

	for _, o := range m.localOffers {
		if !o.offered || now.Before(o.timer.nextDeadline) {
			continue
		}
		actions = append(actions, Action{Kind: ActionSendMulticast, Message: Message{
			Entries: []Entry{{
				Type: EntryTypeOfferService, Num1stOptions: uint8(len(o.endpoints)),
				ServiceID: o.key.ServiceID, InstanceID: o.key.InstanceID,
				MajorVersion: o.major, TTL: o.ttl, MinorVersion: o.minor,
			}},
			Options: endpointOptions(o.endpoints),
		}})
		o.timer.advance(m.timing)
	}

	for _, f := range m.finds {
		if f.found || now.Before(f.timer.nextDeadline) {
			continue
		}
		actions = append(actions, Action{Kind: ActionSendMulticast, Message: Message{
			Entries: []Entry{{
				Type: EntryTypeFindService, ServiceID: f.key.ServiceID, InstanceID: f.key.InstanceID,
				MajorVersion: f.major, TTL: TTLInfinite,
			}},
		}})
		f.timer.advance(m.timing)
	}

	for key, rs := range m.remotes {
		if !now.Before(rs.TTLDeadline) {
			delete(m.remotes, key)
			if m.hooks.ServiceUnavailable != nil {
				m.hooks.ServiceUnavailable(key)
			}
			// P5/spec.md §4.4: TTL elapsed without refresh restarts Find
			// at Initial-Wait for any tracked consumer of this service.
			if f, ok := m.finds[key]; ok {
				f.found = false
				f.timer.reset(now, m.timing)
			}
		}
	}

	return actions
}

// NextDeadline returns the soonest upcoming timer across all tracked
// state, for the reactor's timer wheel to schedule the next Tick.
func (m *Machine) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next time.Time
	have := false
	consider := func(t time.Time) {
		if !have || t.Before(next) {
			next = t
			have = true
		}
	}
	for _, o := range m.localOffers {
		if o.offered {
			consider(o.timer.nextDeadline)
		}
	}
	for _, f := range m.finds {
		if !f.found {
			consider(f.timer.nextDeadline)
		}
	}
	for _, rs := range m.remotes {
		consider(rs.TTLDeadline)
	}
	return next, have
}

// endpointOptions converts endpoints into options with both indices
// pointing at the same contiguous run (index_1st_options=0, implicit).
func endpointOptions(endpoints []Endpoint) []Option {
	opts := make([]Option, 0, len(endpoints))
	for _, ep := range endpoints {
		opts = append(opts, Option{Endpoint: &Endpoint{IP: ep.IP, Port: ep.Port, Protocol: ep.Protocol}, IsIPv6: ep.IP.To4() == nil})
	}
	return opts
}
