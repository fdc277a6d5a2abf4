package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveOperation("book", "ok", 0.01)
	m.ObserveOperation("book", "ok", 0.02)
	m.ObserveOperation("book", "slot_already_booked", 0.01)
	m.AddSlotsGenerated(56)
	m.AddSlotsGenerated(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "slot_already_booked")))
	assert.Equal(t, 56.0, testutil.ToFloat64(m.slotsGenerated))
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveOperation("cancel", "ok", 0.1)
	m.AddSlotsGenerated(3)
}
