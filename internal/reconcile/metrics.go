package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments reconciliation passes. A nil *Metrics records nothing.
type Metrics struct {
	passDuration prometheus.Histogram
	passFailures prometheus.Counter
	changed      prometheus.Counter
	probed       prometheus.Counter
	sources      *prometheus.GaugeVec
	online       prometheus.Gauge
}

// NewMetrics registers the reconcile collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of successful reconciliation passes.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		passFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "pass_failures_total",
			Help:      "Reconciliation passes that returned an error.",
		}),
		changed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "changes_total",
			Help:      "Field and online-status changes applied to assets.",
		}),
		probed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "ping_fallbacks_total",
			Help:      "Normal-mode assets that needed a ping because the controller had no signal.",
		}),
		sources: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "verdicts",
			Help:      "Assets per verdict source in the last pass.",
		}, []string{"source"}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "netreach",
			Subsystem: "reconcile",
			Name:      "assets_online",
			Help:      "Status-tracked assets online after the last pass.",
		}),
	}
}

func (m *Metrics) observePass(res PassResult) {
	if m == nil {
		return
	}
	m.passDuration.Observe(res.Duration.Seconds())
	m.changed.Add(float64(res.Changed))
	m.probed.Add(float64(res.Pinged))
	if res.Sources == nil {
		return
	}
	m.sources.Reset()
	for source, n := range res.Sources {
		m.sources.WithLabelValues(source).Set(float64(n))
	}
	m.online.Set(float64(res.Online))
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.passFailures.Inc()
}
