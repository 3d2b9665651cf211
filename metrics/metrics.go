// Package metrics bundles the Prometheus collectors the reactor and
// dispatch packages increment, grounded on runZeroInc-sockstats's direct
// use of github.com/prometheus/client_golang/prometheus to instrument
// raw socket-level code. These counters are incidental observability, not
// a protocol feature, so they carry no conflict with spec.md's Non-goals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors is one runtime instance's metric set. Each Runtime
// constructs its own Collectors, labelled with its instance name, and
// does not register them with any registry, the global default one
// included; MustRegister adds them to a given *prometheus.Registry.
type Collectors struct {
	DatagramsParseErrors  prometheus.Counter
	PendingRequests       prometheus.Gauge
	TTLExpirations        prometheus.Counter
	ReassemblyTimeouts    prometheus.Counter
	ReassemblyOverlaps    prometheus.Counter
	SubscribersActive     prometheus.Gauge
	EventsPublished       prometheus.Counter
	RequestsCompleted     *prometheus.CounterVec
}

// New constructs a Collectors instance. instance labels every metric so
// multiple runtimes in one process remain distinguishable.
func New(instance string) *Collectors {
	constLabels := prometheus.Labels{"instance": instance}
	return &Collectors{
		DatagramsParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "someip_datagrams_parse_errors_total", Help: "Datagrams dropped for failing header validation.",
			ConstLabels: constLabels,
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "someip_pending_requests", Help: "Requests currently awaiting a response.",
			ConstLabels: constLabels,
		}),
		TTLExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "someip_ttl_expirations_total", Help: "Remote service or subscription entries removed by TTL expiry.",
			ConstLabels: constLabels,
		}),
		ReassemblyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "someip_reassembly_timeouts_total", Help: "TP assemblies dropped after 5s without completion.",
			ConstLabels: constLabels,
		}),
		ReassemblyOverlaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "someip_reassembly_overlaps_total", Help: "TP assemblies dropped due to conflicting overlapping segments.",
			ConstLabels: constLabels,
		}),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "someip_subscribers_active", Help: "Eventgroup subscribers currently in the roster.",
			ConstLabels: constLabels,
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "someip_events_published_total", Help: "Notification datagrams sent to subscribers.",
			ConstLabels: constLabels,
		}),
		RequestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "someip_requests_completed_total", Help: "Completed requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}
}

// MustRegister registers every collector with reg.
func (c *Collectors) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		c.DatagramsParseErrors, c.PendingRequests, c.TTLExpirations,
		c.ReassemblyTimeouts, c.ReassemblyOverlaps, c.SubscribersActive,
		c.EventsPublished, c.RequestsCompleted,
	)
}
