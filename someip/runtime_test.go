package someip

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/someip-go/someip/config"
	"github.com/someip-go/someip/dispatch"
	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

const (
	testServiceID  = 0x1234
	testInstanceID = 1
	testMethodAdd  = 1
	testEventgroup = 1
	testEventID    = 1
)

type addService struct{}

func (addService) Methods() map[uint16]dispatch.Handler {
	return map[uint16]dispatch.Handler{
		testMethodAdd: Handler(func(ctx context.Context, payload []byte) ([]byte, error) {
			if len(payload) != 2 {
				return nil, &MethodError{Code: wire.ReturnCodeMalformedMsg, Err: fmt.Errorf("want 2 bytes")}
			}
			sum := payload[0] + payload[1]
			return []byte{sum}, nil
		}),
	}
}

func newTestConfig(clientAlias string, clientServiceID uint16) config.Config {
	return config.Config{
		UnicastAddr:    "127.0.0.1:0",
		RequestTimeout: 2 * time.Second,
		WorkerPoolSize: 4,
		Services: []config.ServiceInstanceConfig{
			{ServiceID: testServiceID, InstanceID: testInstanceID, MajorVersion: 1, Eventgroups: []uint16{testEventgroup}},
		},
		Clients: []config.ClientAliasConfig{
			{Alias: clientAlias, ServiceID: clientServiceID, InstanceID: testInstanceID, MajorVersion: 1},
		},
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not satisfied before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestLoopbackRequestResponse mirrors spec.md's S1 scenario: a provider
// offers a service, a consumer discovers and calls it over loopback, and
// gets the correct response.
func TestLoopbackRequestResponse(t *testing.T) {
	provider, err := New(newTestConfig("unused", 0), "provider", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(provider) error = %v", err)
	}
	defer provider.Stop(context.Background())

	if _, err := provider.OfferService("adder", testServiceID, testInstanceID, 1, 0, 3, addService{}); err != nil {
		t.Fatalf("OfferService() error = %v", err)
	}

	consumer, err := New(newTestConfig("adder", testServiceID), "consumer", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(consumer) error = %v", err)
	}
	defer consumer.Stop(context.Background())

	client, err := consumer.CreateClient("adder")
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		_, found := consumer.sdMachine.Lookup(client.key)
		return found
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Call(ctx, testMethodAdd, []byte{2, 3})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.ReturnCode != wire.ReturnCodeOK {
		t.Fatalf("ReturnCode = %v, want OK", resp.ReturnCode)
	}
	if len(resp.Payload) != 1 || resp.Payload[0] != 5 {
		t.Fatalf("Payload = %v, want [5]", resp.Payload)
	}
}

// TestLoopbackConcurrentRequests exercises many concurrent clients calling
// the same provider (spec.md's S5 scenario, scaled down for test speed).
func TestLoopbackConcurrentRequests(t *testing.T) {
	provider, err := New(newTestConfig("unused", 0), "provider-concurrent", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(provider) error = %v", err)
	}
	defer provider.Stop(context.Background())

	if _, err := provider.OfferService("adder", testServiceID, testInstanceID, 1, 0, 3, addService{}); err != nil {
		t.Fatalf("OfferService() error = %v", err)
	}

	consumer, err := New(newTestConfig("adder", testServiceID), "consumer-concurrent", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(consumer) error = %v", err)
	}
	defer consumer.Stop(context.Background())

	const n = 20
	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		c, err := consumer.CreateClient("adder")
		if err != nil {
			t.Fatalf("CreateClient() #%d error = %v", i, err)
		}
		clients[i] = c
	}

	waitUntil(t, 3*time.Second, func() bool {
		_, found := consumer.sdMachine.Lookup(clients[0].key)
		return found
	})

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(c *Client) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			resp, err := c.Call(ctx, testMethodAdd, []byte{1, 1})
			if err != nil {
				results <- err
				return
			}
			if len(resp.Payload) != 1 || resp.Payload[0] != 2 {
				results <- fmt.Errorf("payload = %v, want [2]", resp.Payload)
				return
			}
			results <- nil
		}(clients[i])
	}

	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Errorf("client call %d failed: %v", i, err)
		}
	}
}

// TestLoopbackNotifySubscribe covers event publish/subscribe across two
// runtimes over loopback.
func TestLoopbackNotifySubscribe(t *testing.T) {
	provider, err := New(newTestConfig("unused", 0), "provider-events", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(provider) error = %v", err)
	}
	defer provider.Stop(context.Background())

	if _, err := provider.OfferService("adder", testServiceID, testInstanceID, 1, 0, 3, addService{}); err != nil {
		t.Fatalf("OfferService() error = %v", err)
	}

	consumer, err := New(newTestConfig("adder", testServiceID), "consumer-events", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(consumer) error = %v", err)
	}
	defer consumer.Stop(context.Background())

	client, err := consumer.CreateClient("adder")
	if err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		_, found := consumer.sdMachine.Lookup(client.key)
		return found
	})

	events := make(chan Event, 1)
	if _, err := client.Subscribe(testEventgroup, 3, func(ev Event) { events <- ev }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		return provider.roster.Count() > 0
	})

	if err := provider.Notify(testServiceID, testEventgroup, testEventID, []byte("tick")); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case ev := <-events:
		if string(ev.Payload) != "tick" {
			t.Fatalf("Event.Payload = %q, want %q", ev.Payload, "tick")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered before timeout")
	}
}

// TestOnValidateSubscribeRejectsUndeclaredEventgroup covers spec.md §4.6's
// reject path: a subscribe for an eventgroup the service never declared in
// OfferService must not be accepted, and an unoffered service must not be
// either.
func TestOnValidateSubscribeRejectsUndeclaredEventgroup(t *testing.T) {
	provider, err := New(newTestConfig("unused", 0), "provider-validate", WithLogger(logx.Noop()))
	if err != nil {
		t.Fatalf("New(provider) error = %v", err)
	}
	defer provider.Stop(context.Background())

	key := sd.ServiceKey{ServiceID: testServiceID, InstanceID: testInstanceID}
	if accepted := provider.onValidateSubscribe(key, testEventgroup, 1); accepted {
		t.Fatal("expected reject before the service has been offered")
	}

	if _, err := provider.OfferService("adder", testServiceID, testInstanceID, 1, 0, 3, addService{}); err != nil {
		t.Fatalf("OfferService() error = %v", err)
	}

	if accepted := provider.onValidateSubscribe(key, testEventgroup, 1); !accepted {
		t.Fatal("expected accept for a declared eventgroup")
	}
	if accepted := provider.onValidateSubscribe(key, testEventgroup+1, 1); accepted {
		t.Fatal("expected reject for an undeclared eventgroup")
	}
}
