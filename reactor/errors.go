// Package reactor implements component C5: the socket pool, receive loop,
// timer wheel, pending-request table, and session allocator that drive a
// running SOME/IP runtime (spec.md §4.5).
package reactor

import (
	"fmt"
	"time"
)

// TimeoutError is returned to a caller whose pending request's deadline
// elapsed before a response arrived (spec.md §7).
type TimeoutError struct {
	RequestTimeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("someip/reactor: request timed out after %v", e.RequestTimeout)
}

// SessionExhaustedError is returned when a client_id has 65535 pending
// requests in flight and no session id is free (spec.md §7).
type SessionExhaustedError struct {
	ClientID uint16
}

func (e *SessionExhaustedError) Error() string {
	return fmt.Sprintf("someip/reactor: client 0x%04X has no free session ids", e.ClientID)
}

// SendError wraps a socket send failure. Per spec.md §7 it is retried once
// before being surfaced to the caller.
type SendError struct {
	Err     error
	Retried bool
}

func (e *SendError) Error() string {
	if e.Retried {
		return fmt.Sprintf("someip/reactor: send failed after retry: %v", e.Err)
	}
	return fmt.Sprintf("someip/reactor: send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrWouldBlock is returned by a rate-limited send path when the caller
// should back off and retry (spec.md §5).
var ErrWouldBlock = fmt.Errorf("someip/reactor: send would block")

// ShuttingDownError is returned to every in-flight request when the
// runtime stops (spec.md §5, §7).
type ShuttingDownError struct{}

func (e *ShuttingDownError) Error() string {
	return "someip/reactor: runtime is shutting down"
}
