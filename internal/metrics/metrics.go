// Package metrics exposes Prometheus collectors for the control loop.
// All methods are nil-safe so callers can run without metrics wired.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	cyclesTotal     prometheus.Counter
	decisionModes   *prometheus.CounterVec
	sensorRejects   *prometheus.CounterVec
	safetyRefusals  *prometheus.CounterVec
	overrideCycles  prometheus.Counter
	cycleDuration   prometheus.Histogram
	temperature     prometheus.Gauge
	humidity        prometheus.Gauge
	tempRate        prometheus.Gauge
	actuatorStates  *prometheus.GaugeVec
	emergencyActive prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "climate_cycles_total",
			Help: "Total count of control cycles executed.",
		}),
		decisionModes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_decisions_total",
			Help: "Total count of engine decisions by mode.",
		}, []string{"mode"}),
		sensorRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_sensor_rejections_total",
			Help: "Total count of rejected sensor samples by failure class.",
		}, []string{"class"}),
		safetyRefusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climate_safety_refusals_total",
			Help: "Total count of actuator requests refused by the safety layer.",
		}, []string{"actuator", "refusal"}),
		overrideCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "climate_override_cycles_total",
			Help: "Total count of cycles where a manual override replaced the engine decision.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "climate_cycle_duration_seconds",
			Help:    "Histogram of control cycle durations.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "climate_temperature_celsius",
			Help: "Last validated cargo-space temperature.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "climate_humidity_percent",
			Help: "Last validated cargo-space relative humidity.",
		}),
		tempRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "climate_temperature_rate_per_min",
			Help: "Estimated temperature slope over the history window.",
		}),
		actuatorStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climate_actuator_on",
			Help: "Actuator state gauge (1 on, 0 off).",
		}, []string{"actuator"}),
		emergencyActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "climate_emergency_latched",
			Help: "Emergency latch state (1 latched, 0 clear).",
		}),
	}

	prometheus.MustRegister(
		m.cyclesTotal,
		m.decisionModes,
		m.sensorRejects,
		m.safetyRefusals,
		m.overrideCycles,
		m.cycleDuration,
		m.temperature,
		m.humidity,
		m.tempRate,
		m.actuatorStates,
		m.emergencyActive,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Cycle records one completed control cycle and its decision mode.
func (m *Metrics) Cycle(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cyclesTotal.Inc()
	m.decisionModes.WithLabelValues(mode).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// Reading updates the environment gauges from a validated reading.
func (m *Metrics) Reading(temperature, humidity float64) {
	if m == nil {
		return
	}
	m.temperature.Set(temperature)
	m.humidity.Set(humidity)
}

// TempRate updates the slope gauge.
func (m *Metrics) TempRate(perMin float64) {
	if m == nil {
		return
	}
	m.tempRate.Set(perMin)
}

// SensorRejected counts a rejected sample by failure class.
func (m *Metrics) SensorRejected(class string) {
	if m == nil {
		return
	}
	m.sensorRejects.WithLabelValues(class).Inc()
}

// SafetyRefusal counts a refused actuator request.
func (m *Metrics) SafetyRefusal(actuator, refusal string) {
	if m == nil {
		return
	}
	m.safetyRefusals.WithLabelValues(actuator, refusal).Inc()
}

// OverrideCycle counts a cycle where the manual override was applied.
func (m *Metrics) OverrideCycle() {
	if m == nil {
		return
	}
	m.overrideCycles.Inc()
}

// Actuator updates the on/off gauge for one actuator.
func (m *Metrics) Actuator(name string, on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1.0
	}
	m.actuatorStates.WithLabelValues(name).Set(v)
}

// EmergencyLatched updates the emergency latch gauge.
func (m *Metrics) EmergencyLatched(latched bool) {
	if m == nil {
		return
	}
	v := 0.0
	if latched {
		v = 1.0
	}
	m.emergencyActive.Set(v)
}
