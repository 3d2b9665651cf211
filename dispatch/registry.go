package dispatch

import (
	"context"
	"sync"

	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

// Handler executes one method call's business logic. It must not block
// indefinitely; ctx carries the reactor's shutdown signal.
type Handler func(ctx context.Context, clientID, sessionID uint16, payload []byte) (wire.ReturnCode, []byte)

// methodKey identifies one registered handler.
type methodKey struct {
	Service sd.ServiceKey
	Method  uint16
}

// DefaultWorkerPoolSize bounds how many handler invocations run
// concurrently, matching spec.md §4.6's "fixed-size worker pool".
const DefaultWorkerPoolSize = 8

// Registry holds the registered method handlers, keyed by
// (serviceKey, method_id), modeled on the teacher's
// toolRegistry/toolHandlerInfo pair in server/registry.go: a typed
// registration struct per entry guarded by a single RWMutex, with a Call
// path that does the lookup-or-error branch.
type Registry struct {
	log logx.Logger
	ctx context.Context

	mu sync.RWMutex
	// services maps a known service key to whether it is ready to accept
	// calls. RegisterService alone (a config-declared service OfferService
	// hasn't run for yet) leaves it false; RegisterMethod flips it true.
	services map[sd.ServiceKey]bool
	handlers map[methodKey]Handler

	sem chan struct{} // bounds concurrent handler invocations
}

// NewRegistry constructs an empty Registry with the given worker pool size
// (<=0 uses DefaultWorkerPoolSize). ctx is passed to every Handler
// invocation, so canceling it (the reactor does this on Stop) lets
// well-behaved handlers unwind early.
func NewRegistry(ctx context.Context, log logx.Logger, poolSize int) *Registry {
	if poolSize <= 0 {
		poolSize = DefaultWorkerPoolSize
	}
	return &Registry{
		log:      log,
		ctx:      ctx,
		services: make(map[sd.ServiceKey]bool),
		handlers: make(map[methodKey]Handler),
		sem:      make(chan struct{}, poolSize),
	}
}

// RegisterService declares key as a known but not-yet-ready service, e.g.
// one configured to be offered before OfferService has registered its
// method handlers. Dispatch returns NOT_READY for it until RegisterMethod
// runs. Calling it again on an already-ready service leaves it ready.
func (r *Registry) RegisterService(key sd.ServiceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.services[key]; !known {
		r.services[key] = false
	}
}

// UnregisterService removes key and every method handler registered under
// it, called on StopOffering.
func (r *Registry) UnregisterService(key sd.ServiceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, key)
	for mk := range r.handlers {
		if mk.Service == key {
			delete(r.handlers, mk)
		}
	}
}

// RegisterMethod attaches handler to (key, methodID). Calling it again
// for the same pair replaces the previous handler.
func (r *Registry) RegisterMethod(key sd.ServiceKey, methodID uint16, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[key] = true
	r.handlers[methodKey{Service: key, Method: methodID}] = handler
}

// Dispatch implements reactor.Dispatcher. It looks up the handler for
// (key, methodID); on a miss it synchronously calls onComplete with the
// appropriate error return_code (UNKNOWN_SERVICE/NOT_READY/UNKNOWN_METHOD)
// unless noReturn suppresses any reply. On a hit, the handler runs on the
// Registry's bounded worker pool; a panic inside it is recovered and
// mapped to NOT_OK, per spec.md §4.6.
func (r *Registry) Dispatch(key sd.ServiceKey, methodID uint16, clientID, sessionID uint16, payload []byte, noReturn bool, onComplete func(wire.ReturnCode, []byte)) {
	r.mu.RLock()
	ready, serviceKnown := r.services[key]
	handler, methodKnown := r.handlers[methodKey{Service: key, Method: methodID}]
	r.mu.RUnlock()

	if !serviceKnown {
		if !noReturn {
			onComplete((&UnknownServiceError{Key: key}).ReturnCode(), nil)
		}
		return
	}
	if !ready {
		if !noReturn {
			onComplete((&NotReadyError{Key: key}).ReturnCode(), nil)
		}
		return
	}
	if !methodKnown {
		if !noReturn {
			onComplete((&UnknownMethodError{Key: key, MethodID: methodID}).ReturnCode(), nil)
		}
		return
	}

	r.sem <- struct{}{}
	go func() {
		defer func() { <-r.sem }()
		rc, resp := r.invoke(handler, clientID, sessionID, payload)
		if !noReturn {
			onComplete(rc, resp)
		}
	}()
}

// invoke runs handler with panic recovery, per spec.md §4.6's
// panic-to-NOT_OK mapping.
func (r *Registry) invoke(handler Handler, clientID, sessionID uint16, payload []byte) (rc wire.ReturnCode, resp []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic for client 0x%04X session 0x%04X: %v", clientID, sessionID, rec)
			rc, resp = wire.ReturnCodeNotOK, nil
		}
	}()
	return handler(r.ctx, clientID, sessionID, payload)
}
