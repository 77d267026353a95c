package sweep

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chain_sweeper"

// MetricsObserver turns the audit stream into prometheus metrics.
type MetricsObserver struct {
	events        *prometheus.CounterVec
	transferred   prometheus.Counter
	backoff       prometheus.Histogram
	attempts      prometheus.Histogram
	lastSweepGood prometheus.Gauge
}

// NewMetricsObserver registers the sweep metrics on reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Sweep audit events by type.",
		}, []string{"type"}),
		transferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transferred_base_units_total",
			Help:      "Base units moved by confirmed transfers.",
		}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "backoff_seconds",
			Help:      "Delays slept before resubmitting a transfer.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 30},
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "confirmed_attempt",
			Help:      "Submission attempt on which a transfer was confirmed.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		lastSweepGood: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_success",
			Help:      "1 when the last sweep or recovery finished without aborting.",
		}),
	}

	for _, c := range []prometheus.Collector{m.events, m.transferred, m.backoff, m.attempts, m.lastSweepGood} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register sweep metric")
		}
	}

	return m, nil
}

func (m *MetricsObserver) Observe(ev Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case EventConfirmed, EventConfirmedByLookup:
		m.transferred.Add(float64(ev.Amount))
		m.attempts.Observe(float64(ev.Attempt))
	case EventRetryScheduled:
		m.backoff.Observe(ev.Delay.Seconds())
	case EventSweepFinished:
		if ev.Err == nil {
			m.lastSweepGood.Set(1)
		} else {
			m.lastSweepGood.Set(0)
		}
	}
}
