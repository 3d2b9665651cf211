// Package someip is the public API: it wires the wire codec, TP
// segmentation, Service Discovery, the reactor, and dispatch into a single
// Runtime, in the same "thin facade over subpackages" role the teacher's
// root gomcp.go/client.go/server.go played over its own subpackages.
package someip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/someip-go/someip/config"
	"github.com/someip-go/someip/dispatch"
	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/metrics"
	"github.com/someip-go/someip/reactor"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

// Option customizes Runtime construction.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger logx.Logger
}

// WithLogger overrides the default logrus-backed logger, e.g. with
// logx.Noop() in tests that don't want log output.
func WithLogger(l logx.Logger) Option {
	return func(o *runtimeOptions) { o.logger = l }
}

// Runtime is one running SOME/IP node: it owns a reactor, the SD state
// machine, and the dispatch registry/roster/publisher, and offers the
// application-facing OfferService/CreateClient/Subscribe/Notify API.
type Runtime struct {
	id           string
	instanceName string
	cfg          config.Config
	log          logx.Logger
	stats        *metrics.Collectors

	sdMachine *sd.Machine
	registry  *dispatch.Registry
	roster    *dispatch.Roster
	publisher *dispatch.Publisher
	rx        *reactor.Reactor

	offeredMu sync.Mutex
	offered   map[uint16]sd.ServiceKey // service_id -> full key, for Notify's service-only signature

	// eventgroups records, per offered service's discoveryKey, the
	// eventgroup ids it actually exposes (spec.md §4.6's "Provider
	// validates (service, instance, eventgroup, major)" reject path).
	eventgroupsMu sync.Mutex
	eventgroups   map[sd.ServiceKey]map[uint16]struct{}

	clientMu     sync.Mutex
	nextClientID uint16

	subscriptions *subscriptionTable
}

// ServiceImpl is implemented by an application to back one offered service
// instance: Methods maps method_id to the handler that executes it.
type ServiceImpl interface {
	Methods() map[uint16]dispatch.Handler
}

// ServiceHandle is returned by OfferService; StopOffering withdraws it.
type ServiceHandle struct {
	key     sd.ServiceKey // full (service_id, instance_id), for SD
	wireKey sd.ServiceKey // service_id only, for dispatch.Registry
	r       *Runtime
}

// Response is what Client.Call resolves to.
type Response struct {
	ReturnCode wire.ReturnCode
	Payload    []byte
}

// Event is delivered to a Subscription's callback for every NOTIFICATION
// received from the subscribed service.
type Event struct {
	EventID uint16
	Payload []byte
}

// New constructs and starts a Runtime bound to cfg's sockets. instanceName
// and a generated run id are attached to every log line so multiple
// Runtimes in one process (as in loopback integration tests) stay
// distinguishable.
func New(cfg config.Config, instanceName string, opts ...Option) (*Runtime, error) {
	o := runtimeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logx.New(instanceName)
	}
	runID := uuid.New().String()
	log := o.logger.With("run_id", runID)

	stats := metrics.New(instanceName)

	r := &Runtime{
		id: runID, instanceName: instanceName, cfg: cfg,
		log: log, stats: stats,
		nextClientID:  1,
		offered:       make(map[uint16]sd.ServiceKey),
		eventgroups:   make(map[sd.ServiceKey]map[uint16]struct{}),
		subscriptions: newSubscriptionTable(),
	}

	r.sdMachine = sd.NewMachine(sd.Hooks{
		ServiceAvailable:   r.onServiceAvailable,
		ServiceUnavailable: r.onServiceUnavailable,
		ValidateSubscribe:  r.onValidateSubscribe,
		SubscriberAdded:    r.onSubscriberAdded,
		SubscriberRemoved:  r.onSubscriberRemoved,
		SubscriptionAcked:  r.onSubscriptionAcked,
		RebootDetected:     func(sender string) { log.Warn("reboot detected from %s", sender) },
	})

	ctx := context.Background()
	r.registry = dispatch.NewRegistry(ctx, log, cfg.WorkerPoolSize)
	r.roster = dispatch.NewRoster()

	var iface *net.Interface
	if cfg.InterfaceName != "" {
		found, err := net.InterfaceByName(cfg.InterfaceName)
		if err != nil {
			return nil, fmt.Errorf("someip: resolve interface %q: %w", cfg.InterfaceName, err)
		}
		iface = found
	}

	unicastAddr := cfg.UnicastAddr
	if unicastAddr == "" {
		unicastAddr = ":0"
	}

	rx, err := reactor.New(reactor.Config{
		UnicastAddr:    unicastAddr,
		MulticastGroup: cfg.SDMulticastGroup,
		MulticastPort:  cfg.SDMulticastPort,
		Interface:      iface,
		WorkerPoolSize: cfg.WorkerPoolSize,
		RequestTimeout: cfg.RequestTimeout,
		TPPayloadLimit: cfg.TPMTUPayload,
		AssemblyCap:    cfg.TPAssemblyCap,
	}, log, stats, r.sdMachine, r.registry, r)
	if err != nil {
		return nil, err
	}
	r.rx = rx
	r.publisher = dispatch.NewPublisher(log, stats, r.roster, rx, cfg.TPMTUPayload)

	go func() {
		if err := rx.Run(ctx); err != nil {
			log.Error("reactor stopped: %v", err)
		}
	}()

	for _, svc := range cfg.Services {
		// wireKey, not the full (service_id, instance_id) key: Dispatch
		// looks services up by the service_id-only key the reactor builds
		// from an inbound datagram's header.
		r.registry.RegisterService(sd.ServiceKey{ServiceID: svc.ServiceID})
	}

	return r, nil
}

// LocalAddr returns the runtime's bound unicast address.
func (r *Runtime) LocalAddr() *net.UDPAddr {
	return r.rx.LocalAddr()
}

// OfferService registers impl's method handlers and starts advertising the
// service instance configured under alias in cfg.Services (matched by
// ServiceID/InstanceID — alias is the declaration's index-free name
// supplied by the caller for readability in logs). The matching
// ServiceInstanceConfig's Eventgroups names the eventgroup ids this
// instance accepts subscriptions for; a SubscribeEventgroup for any other
// id is rejected with TTL=0, per spec.md §4.6. A serviceID/instanceID with
// no matching cfg.Services entry accepts no subscriptions at all.
func (r *Runtime) OfferService(alias string, serviceID, instanceID uint16, majorVersion uint8, minorVersion uint32, ttlSeconds uint32, impl ServiceImpl) (*ServiceHandle, error) {
	// SOME/IP REQUEST/RESPONSE/NOTIFICATION datagrams carry only
	// service_id, not instance_id (wire.Header has no such field —
	// instance_id is resolved to a transport endpoint once, during
	// discovery). wireKey is what the reactor builds from an inbound
	// datagram and is what dispatch/roster/subscriptions must key on;
	// discoveryKey is the full identity SD entries carry on the wire.
	discoveryKey := sd.ServiceKey{ServiceID: serviceID, InstanceID: instanceID}
	wireKey := sd.ServiceKey{ServiceID: serviceID}

	for methodID, handler := range impl.Methods() {
		r.registry.RegisterMethod(wireKey, methodID, handler)
	}

	endpoint := sd.Endpoint{IP: r.rx.LocalAddr().IP, Port: uint16(r.rx.LocalAddr().Port), Protocol: sd.ProtoUDP}
	if endpoint.IP == nil || endpoint.IP.IsUnspecified() {
		endpoint.IP = localLoopback()
	}

	r.sdMachine.OfferService(time.Now(), discoveryKey, majorVersion, minorVersion, ttlSeconds, []sd.Endpoint{endpoint})
	r.log.Info("offering service %s (0x%04X/%d)", alias, serviceID, instanceID)

	r.offeredMu.Lock()
	r.offered[serviceID] = discoveryKey
	r.offeredMu.Unlock()

	egSet := make(map[uint16]struct{})
	for _, svc := range r.cfg.Services {
		if svc.ServiceID == serviceID && svc.InstanceID == instanceID {
			for _, eg := range svc.Eventgroups {
				egSet[eg] = struct{}{}
			}
			break
		}
	}
	r.eventgroupsMu.Lock()
	r.eventgroups[discoveryKey] = egSet
	r.eventgroupsMu.Unlock()

	return &ServiceHandle{key: discoveryKey, wireKey: wireKey, r: r}, nil
}

// StopOffering withdraws h's service from advertisement and its handlers
// from the registry.
func (h *ServiceHandle) StopOffering() {
	if a := h.r.sdMachine.StopOffering(h.key); a != nil {
		h.r.rx.SendSD(*a)
	}
	h.r.registry.UnregisterService(h.wireKey)

	h.r.offeredMu.Lock()
	delete(h.r.offered, h.key.ServiceID)
	h.r.offeredMu.Unlock()

	h.r.eventgroupsMu.Lock()
	delete(h.r.eventgroups, h.key)
	h.r.eventgroupsMu.Unlock()
}

// Subscribe registers onEvent to receive NOTIFICATIONs for
// (serviceID, instanceID)'s eventgroupID, per spec.md §4.6.
func (r *Runtime) Subscribe(serviceID, instanceID, eventgroupID uint16, ttl uint32, onEvent func(Event)) (Subscription, error) {
	key := sd.ServiceKey{ServiceID: serviceID, InstanceID: instanceID}
	return r.subscribe(key, eventgroupID, ttl, onEvent)
}

// Notify publishes payload as an event on (service, eventgroup, eventID) to
// every current subscriber, per spec.md §4.6. service must already have
// been offered via OfferService.
func (r *Runtime) Notify(service, eventgroup, eventID uint16, payload []byte) error {
	r.offeredMu.Lock()
	key, ok := r.offered[service]
	r.offeredMu.Unlock()
	if !ok {
		return &NotDiscoveredError{ServiceID: service}
	}
	return r.publisher.Publish(key, eventgroup, eventID, sd.SDInterfaceVersion, payload)
}

// Stop withdraws every offered service, cancels in-flight requests, and
// joins the reactor's goroutines.
func (r *Runtime) Stop(ctx context.Context) error {
	r.offeredMu.Lock()
	keys := make([]sd.ServiceKey, 0, len(r.offered))
	for _, key := range r.offered {
		keys = append(keys, key)
	}
	r.offeredMu.Unlock()
	// Best effort: send StopOffer for each offered service before the
	// sockets close.
	for _, key := range keys {
		if a := r.sdMachine.StopOffering(key); a != nil {
			r.rx.SendSD(*a)
		}
	}
	return r.rx.Stop(ctx)
}

// HandleEvent implements reactor.EventHandler, fanning an incoming
// NOTIFICATION out to every local Subscription callback for key.
func (r *Runtime) HandleEvent(key sd.ServiceKey, eventID uint16, payload []byte) {
	r.subscriptions.dispatch(key, Event{EventID: eventID & 0x7FFF, Payload: payload})
}

func (r *Runtime) onServiceAvailable(svc sd.RemoteService) {
	r.log.Debug("service available: 0x%04X/%d at %v", svc.Key.ServiceID, svc.Key.InstanceID, svc.Endpoint.IP)
}

func (r *Runtime) onServiceUnavailable(key sd.ServiceKey) {
	r.log.Debug("service unavailable: 0x%04X/%d", key.ServiceID, key.InstanceID)
	if r.stats != nil {
		r.stats.TTLExpirations.Inc()
	}
}

func (r *Runtime) onValidateSubscribe(key sd.ServiceKey, eventgroupID uint16, major uint8) bool {
	r.eventgroupsMu.Lock()
	defer r.eventgroupsMu.Unlock()
	set, ok := r.eventgroups[key]
	if !ok {
		return false
	}
	_, accepted := set[eventgroupID]
	return accepted
}

func (r *Runtime) onSubscriberAdded(key sd.ServiceKey, eventgroupID uint16, endpoint sd.Endpoint, ttlDeadline time.Time) {
	r.roster.Add(key, eventgroupID, endpoint, ttlDeadline)
	if r.stats != nil {
		r.stats.SubscribersActive.Set(float64(r.roster.Count()))
	}
}

func (r *Runtime) onSubscriberRemoved(key sd.ServiceKey, eventgroupID uint16, endpoint sd.Endpoint) {
	r.roster.Remove(key, eventgroupID, endpoint)
	if r.stats != nil {
		r.stats.SubscribersActive.Set(float64(r.roster.Count()))
	}
}

func (r *Runtime) onSubscriptionAcked(key sd.ServiceKey, eventgroupID uint16, accepted bool) {
	r.log.Debug("subscription to 0x%04X/%d eventgroup %d accepted=%v", key.ServiceID, key.InstanceID, eventgroupID, accepted)
}
