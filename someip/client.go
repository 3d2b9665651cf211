package someip

import (
	"context"
	"net"
	"time"

	"github.com/someip-go/someip/sd"
)

// localLoopback is used when the reactor bound an unspecified address
// (":0"), so endpoint options carried in SD messages name a routable IP.
func localLoopback() net.IP { return net.IPv4(127, 0, 0, 1) }

// Client is a resolved handle to one required service instance, created by
// Runtime.CreateClient from a config.ClientAliasConfig alias.
type Client struct {
	r        *Runtime
	clientID uint16
	key      sd.ServiceKey
	version  uint8
}

// CreateClient resolves alias against cfg.Clients and allocates a fresh
// client_id for it (spec.md §4.6: client_id identifies the logical caller
// within a request_id). The target service need not be discovered yet —
// Call looks it up at send time so a Client can be created before its
// provider comes up.
func (r *Runtime) CreateClient(alias string) (*Client, error) {
	aliasCfg, ok := r.cfg.FindClient(alias)
	if !ok {
		return nil, &UnknownAliasError{Alias: alias}
	}
	key := sd.ServiceKey{ServiceID: aliasCfg.ServiceID, InstanceID: aliasCfg.InstanceID}

	r.sdMachine.FindService(time.Now(), key, aliasCfg.MajorVersion)

	r.clientMu.Lock()
	id := r.nextClientID
	r.nextClientID++
	r.clientMu.Unlock()

	return &Client{r: r, clientID: id, key: key, version: aliasCfg.MajorVersion}, nil
}

// Call sends a REQUEST for methodID and blocks for the matching RESPONSE,
// per spec.md §4.5/§4.6, using ctx's deadline if set or the Runtime's
// configured RequestTimeout otherwise.
func (c *Client) Call(ctx context.Context, methodID uint16, payload []byte) (Response, error) {
	rs, found := c.r.sdMachine.Lookup(c.key)
	if !found {
		return Response{}, &NotDiscoveredError{ServiceID: c.key.ServiceID, InstanceID: c.key.InstanceID}
	}

	timeout := c.r.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	result, err := c.r.rx.SendRequest(ctx, c.clientID, rs.Endpoint, c.key, methodID, c.version, payload, timeout)
	if err != nil {
		return Response{}, err
	}
	if result.Err != nil {
		return Response{}, result.Err
	}
	return Response{ReturnCode: result.ReturnCode, Payload: result.Payload}, nil
}

// Subscribe registers onEvent to receive every NOTIFICATION for
// (c.key, eventgroupID) and sends a SubscribeEventgroup request to the
// provider. It returns NotDiscoveredError, and registers nothing, if the
// provider has not been discovered yet.
func (c *Client) Subscribe(eventgroupID uint16, ttl uint32, onEvent func(Event)) (Subscription, error) {
	return c.r.subscribe(c.key, eventgroupID, ttl, onEvent)
}

// subscribe registers onEvent and sends a SubscribeEventgroup request.
// key is the full (service_id, instance_id) discovered identity, used for
// the SD exchange; incoming NOTIFICATION datagrams carry only service_id
// (wire.Header has no instance_id field), so local event delivery is
// tracked under a service_id-only key to match what the reactor hands
// EventHandler.HandleEvent.
func (r *Runtime) subscribe(key sd.ServiceKey, eventgroupID uint16, ttl uint32, onEvent func(Event)) (Subscription, error) {
	if _, found := r.sdMachine.Lookup(key); !found {
		return Subscription{}, &NotDiscoveredError{ServiceID: key.ServiceID, InstanceID: key.InstanceID}
	}

	local := r.rx.LocalAddr()
	endpoint := sd.Endpoint{IP: local.IP, Port: uint16(local.Port), Protocol: sd.ProtoUDP}
	if endpoint.IP == nil || endpoint.IP.IsUnspecified() {
		endpoint.IP = localLoopback()
	}

	wireKey := sd.ServiceKey{ServiceID: key.ServiceID}
	id := r.subscriptions.add(wireKey, eventgroupID, onEvent)

	if a, ok := r.sdMachine.Subscribe(key, eventgroupID, ttl, endpoint); ok {
		r.rx.SendSD(a)
	}

	return Subscription{discoveryKey: key, wireKey: wireKey, eventgroup: eventgroupID, id: id, r: r}, nil
}
