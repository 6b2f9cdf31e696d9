package listener

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the listener's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	deliveries   *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
	registrySize *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployhook_webhook_deliveries_total",
				Help: "Webhook deliveries by resource kind, action and outcome",
			},
			[]string{"kind", "action", "outcome"},
		),
		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deployhook_webhook_lock_wait_seconds",
				Help:    "Time spent waiting for the per-resource lock",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 30, 120, 600},
			},
			[]string{"kind"},
		),
		registrySize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deployhook_webhook_lock_registry_size",
				Help: "Resource ids with an allocated lock",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(m.deliveries, m.lockWait, m.registrySize)
	return m
}

func (m *Metrics) observeDelivery(kind, action string, err error) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, action, Outcome(err)).Inc()
}

func (m *Metrics) observeLock(kind string, waited time.Duration, size int) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(kind).Observe(waited.Seconds())
	m.registrySize.WithLabelValues(kind).Set(float64(size))
}
