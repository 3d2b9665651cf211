package someip

import (
	"context"
	"errors"

	"github.com/someip-go/someip/dispatch"
	"github.com/someip-go/someip/wire"
)

// MethodFunc is the application-facing method handler signature: it takes
// the request payload and returns the response payload, with a nil error
// meaning wire.ReturnCodeOK.
type MethodFunc func(ctx context.Context, payload []byte) ([]byte, error)

// MethodError lets a MethodFunc report a specific SOME/IP return code
// instead of the generic NOT_OK mapping every other error gets.
type MethodError struct {
	Code wire.ReturnCode
	Err  error
}

func (e *MethodError) Error() string { return e.Err.Error() }
func (e *MethodError) Unwrap() error { return e.Err }

// Handler adapts f to dispatch.Handler, the lower-level signature the
// registry actually invokes (spec.md §4.6's "method handler" contract).
func Handler(f MethodFunc) dispatch.Handler {
	return func(ctx context.Context, clientID, sessionID uint16, payload []byte) (wire.ReturnCode, []byte) {
		resp, err := f(ctx, payload)
		if err == nil {
			return wire.ReturnCodeOK, resp
		}
		var me *MethodError
		if errors.As(err, &me) {
			return me.Code, nil
		}
		return wire.ReturnCodeNotOK, nil
	}
}
