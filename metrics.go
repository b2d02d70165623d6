package stripesync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by a Syncer. A nil *Metrics
// records nothing.
type Metrics struct {
	records  *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with the given
// Registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stripesync",
			Name:      "records_total",
			Help:      "Records reconciled, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stripesync",
			Name:      "runs_total",
			Help:      "Sync runs, by entity and terminal state.",
		}, []string{"entity", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stripesync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"entity"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stripesync",
			Name:      "webhook_events_total",
			Help:      "Webhook events applied, by type and result.",
		}, []string{"type", "result"}),
	}

	for _, c := range []prometheus.Collector{m.records, m.runs, m.duration, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) record(entity, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) run(entity string, state RunState, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(entity, string(state)).Inc()
	m.duration.WithLabelValues(entity).Observe(d.Seconds())
}

func (m *Metrics) event(typ, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ, result).Inc()
}
