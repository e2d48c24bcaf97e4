package telemetry

import (
	"net/http"

	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hydroponik"

// Metrics exports the controller state to Prometheus. Every collector lives
// in its own registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	ph           prometheus.Gauge
	ec           prometheus.Gauge
	volume       prometheus.Gauge
	temperature  prometheus.Gauge
	systemMode   prometheus.Gauge
	autoMode     prometheus.Gauge
	target       prometheus.Gauge
	channelPhase *prometheus.GaugeVec
	doses        *prometheus.CounterVec
	dosedML      *prometheus.CounterVec
	faults       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		ph:          gauge("ph", "Filtered reservoir pH."),
		ec:          gauge("ec", "Filtered conductivity in mS/cm."),
		volume:      gauge("volume_liters", "Filtered reservoir volume."),
		temperature: gauge("temperature_celsius", "Solution temperature."),
		systemMode:  gauge("system_mode", "Current system mode as its enum value."),
		autoMode:    gauge("auto_mode", "1 when automatic pH dosing is enabled."),
		target:      gauge("target_ph", "pH setpoint."),
		channelPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_phase",
			Help:      "Actuation phase of each channel as its enum value.",
		}, []string{"channel"}),
		doses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_total",
			Help:      "Doses started.",
		}, []string{"channel", "source"}),
		dosedML: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dosed_ml_total",
			Help:      "Planned volume of all doses started.",
		}, []string{"channel"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_faults_total",
			Help:      "Escalations raised by the safety sweep.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.ph, m.ec, m.volume, m.temperature,
		m.systemMode, m.autoMode, m.target,
		m.channelPhase, m.doses, m.dosedML, m.faults,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSnapshot updates the gauges. Readings are only exported once valid.
func (m *Metrics) ObserveSnapshot(snap control.Snapshot) {
	if r := snap.Reading; r.Valid {
		m.ph.Set(float64(r.PH))
		m.ec.Set(float64(r.EC))
		m.volume.Set(float64(r.VolumeLiters))
		m.temperature.Set(float64(r.TemperatureC))
	}

	m.systemMode.Set(float64(snap.System))
	m.target.Set(float64(snap.Target))
	if snap.AutoMode {
		m.autoMode.Set(1)
	} else {
		m.autoMode.Set(0)
	}

	for _, ch := range snap.Channels {
		m.channelPhase.WithLabelValues(ch.Channel.String()).Set(float64(ch.Phase))
	}
	for _, f := range snap.Faults {
		m.faults.WithLabelValues(string(f.Kind)).Inc()
	}
}

func (m *Metrics) ObserveDose(ev dosing.DoseEvent) {
	m.doses.WithLabelValues(ev.Channel.String(), string(ev.Source)).Inc()
	m.dosedML.WithLabelValues(ev.Channel.String()).Add(float64(ev.VolumeML))
}
