// Package metrics exposes poll cycle counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SensorMetrics counts poll cycles per sensor and outcome.
type SensorMetrics struct {
	Cycles        *prometheus.CounterVec   // labels: sensor, outcome
	CycleDuration *prometheus.HistogramVec // labels: sensor
	LastValue     *prometheus.GaugeVec     // labels: sensor
	Functional    *prometheus.GaugeVec     // labels: sensor
}

// NewSensorMetrics registers and returns the sensor metrics.
func NewSensorMetrics(reg prometheus.Registerer) *SensorMetrics {
	m := &SensorMetrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "particulate_poll_cycles_total",
			Help: "Poll cycles by sensor and outcome.",
		}, []string{"sensor", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "particulate_poll_cycle_seconds",
			Help:    "Time spent in one poll cycle, including the frame read.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"sensor"}),
		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "particulate_measurement",
			Help: "Most recent valid measurement.",
		}, []string{"sensor"}),
		Functional: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "particulate_sensor_functional",
			Help: "1 when the sensor's transport opened, 0 when setup failed.",
		}, []string{"sensor"}),
	}
	reg.MustRegister(m.Cycles, m.CycleDuration, m.LastValue, m.Functional)
	return m
}

// ObserveCycle records the outcome of one cycle. value is only used when
// outcome is "ok".
func (m *SensorMetrics) ObserveCycle(sensor, outcome string, value float64, d time.Duration) {
	m.Cycles.WithLabelValues(sensor, outcome).Inc()
	m.CycleDuration.WithLabelValues(sensor).Observe(d.Seconds())
	if outcome == "ok" {
		m.LastValue.WithLabelValues(sensor).Set(value)
	}
}

// ObserveSetup records whether the sensor's setup succeeded.
func (m *SensorMetrics) ObserveSetup(sensor string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	m.Functional.WithLabelValues(sensor).Set(v)
}
