// Package dispatch implements component C6: the method handler registry,
// the eventgroup subscription roster, and event publish, sitting on top of
// the reactor's send path (spec.md §4.6).
package dispatch

import (
	"fmt"

	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/wire"
)

// UnknownServiceError means no handler was ever registered for the
// request's (service_id, instance_id). Carries ReturnCode so the reactor's
// response path knows what to send back on the wire.
type UnknownServiceError struct {
	Key sd.ServiceKey
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("someip/dispatch: unknown service 0x%04X/%d", e.Key.ServiceID, e.Key.InstanceID)
}
func (e *UnknownServiceError) ReturnCode() wire.ReturnCode { return wire.ReturnCodeUnknownService }

// UnknownMethodError means the service exists but method_id has no
// registered handler.
type UnknownMethodError struct {
	Key      sd.ServiceKey
	MethodID uint16
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("someip/dispatch: unknown method 0x%04X on service 0x%04X/%d", e.MethodID, e.Key.ServiceID, e.Key.InstanceID)
}
func (e *UnknownMethodError) ReturnCode() wire.ReturnCode { return wire.ReturnCodeUnknownMethod }

// NotReadyError means the service is registered but not yet accepting
// calls (e.g. a service declared in config whose handlers have not been
// registered yet by OfferService).
type NotReadyError struct {
	Key sd.ServiceKey
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("someip/dispatch: service 0x%04X/%d not ready", e.Key.ServiceID, e.Key.InstanceID)
}
func (e *NotReadyError) ReturnCode() wire.ReturnCode { return wire.ReturnCodeNotReady }
