package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for coordinator operations.
type BookingMetrics struct {
	operationsTotal *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	slotsGenerated  prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Coordinator operations by outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of coordinator operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		slotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "booking",
			Name:      "slots_generated_total",
			Help:      "Slots created by availability generation",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.latency, m.slotsGenerated)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) AddSlotsGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsGenerated.Add(float64(n))
}
