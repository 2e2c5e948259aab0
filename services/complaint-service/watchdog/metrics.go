package watchdog

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the watchdog's Prometheus collectors.
type Metrics struct {
	ticks         *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	lastEscalated prometheus.Gauge
	duration      prometheus.Histogram
}

// Tick outcomes.
const (
	outcomeOK        = "ok"
	outcomeSkipped   = "skipped"
	outcomeLeaseHeld = "lease_held"
	outcomeAborted   = "aborted"
	outcomeError     = "error"
)

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sla_watchdog_ticks_total",
				Help: "SLA watchdog ticks by outcome",
			},
			[]string{"outcome"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sla_escalations_total",
				Help: "Complaints advanced by the SLA watchdog, by resulting status",
			},
			[]string{"status"},
		),
		lastEscalated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sla_watchdog_last_escalated",
			Help: "Complaints escalated by the most recent tick",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sla_watchdog_tick_duration_seconds",
			Help:    "Duration of SLA watchdog ticks",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.escalations, m.lastEscalated, m.duration)
	}
	return m
}
