package ircd

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the Prometheus collectors the core registers itself,
// independent of whatever the embedding daemon additionally exposes. girc
// itself has no metrics of its own; this is grounded on the prometheus
// usage pattern from the rest of the retrieved pack's daemons (registering
// a handful of Counter/Gauge collectors against a package-level registry).
type metrics struct {
	modeOps        prometheus.Counter
	joins          prometheus.Counter
	parts          prometheus.Counter
	channelsActive prometheus.Gauge
	linkAttempts   prometheus.Counter
	linkFailures   prometheus.Counter
	sasl           *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		modeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "mode_changes_total",
			Help:      "Number of channel mode deltas processed by the mode engine.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "channel_joins_total",
			Help:      "Number of successful channel joins.",
		}),
		parts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "channel_parts_total",
			Help:      "Number of channel parts, including kicks.",
		}),
		channelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ircd",
			Name:      "channels_active",
			Help:      "Number of channels currently tracked in the pool.",
		}),
		linkAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "link_attempts_total",
			Help:      "Number of outbound server link attempts.",
		}),
		linkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "link_failures_total",
			Help:      "Number of outbound server link attempts that failed or timed out.",
		}),
		sasl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ircd",
			Name:      "sasl_attempts_total",
			Help:      "SASL authentication attempts by outcome.",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.modeOps, m.joins, m.parts, m.channelsActive,
			m.linkAttempts, m.linkFailures, m.sasl)
	}
	return m
}

// globalMetrics is the default collector set, registered against the
// default Prometheus registry. NewModeEngine and NewLinkage bind it, and
// the pool, channel operations and SASL proxy use it directly; no
// constructor accepts a different *metrics.
var globalMetrics = newMetrics(prometheus.DefaultRegisterer)
