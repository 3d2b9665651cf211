package reactor

import "golang.org/x/time/rate"

// DefaultSendBurst/Rate bound how many datagrams a socket will accept
// before a send reports ErrWouldBlock, per spec.md §5's backpressure
// description. These are generous defaults appropriate for a LAN.
const (
	DefaultSendRate  = 2000 // datagrams/sec
	DefaultSendBurst = 256
)

// SendLimiter throttles outbound sends; a Reactor uses one SendLimiter
// for all of its sockets. Grounded on
// golang.org/x/time/rate (from the tinyrange-cc pack member's dependency
// set).
type SendLimiter struct {
	limiter *rate.Limiter
}

// NewSendLimiter constructs a limiter allowing ratePerSec datagrams/sec
// with the given burst.
func NewSendLimiter(ratePerSec float64, burst int) *SendLimiter {
	if ratePerSec <= 0 {
		ratePerSec = DefaultSendRate
	}
	if burst <= 0 {
		burst = DefaultSendBurst
	}
	return &SendLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether a send may proceed right now. A false result means
// the caller should surface ErrWouldBlock rather than block the reactor
// thread (spec.md §5: "beyond that, backpressure surfaces as
// SendError::WouldBlock and the caller may retry").
func (l *SendLimiter) Allow() bool {
	return l.limiter.Allow()
}
