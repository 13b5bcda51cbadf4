// Package metrics exposes Prometheus collectors for the alarm pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

const namespace = "eve_alert"

// Metrics holds every collector on a private registry.
// All methods accept a nil receiver so metrics stay optional.
type Metrics struct {
	registry *prometheus.Registry

	alarmsFired      *prometheus.CounterVec
	alarmsSuppressed *prometheus.CounterVec
	detected         *prometheus.GaugeVec
	notifications    *prometheus.CounterVec
	playbackFailures *prometheus.CounterVec
	runActive        prometheus.Gauge
	runsStopped      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alarmsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_fired_total",
			Help:      "Alarms that passed the cooldown policy.",
		}, []string{"class"}),
		alarmsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_suppressed_total",
			Help:      "Detections suppressed by the cooldown policy.",
		}, []string{"class", "reason"}),
		detected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detected",
			Help:      "Latest detection verdict per class (1 when detected).",
		}, []string{"class"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts.",
		}, []string{"class", "kind", "status"}),
		playbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failures_total",
			Help:      "Alarm sounds that could not be played.",
		}, []string{"class"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a detection run is active.",
		}),
		runsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_stopped_total",
			Help:      "Detection runs that ended, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alarmsFired,
		m.alarmsSuppressed,
		m.detected,
		m.notifications,
		m.playbackFailures,
		m.runActive,
		m.runsStopped,
	)

	for _, class := range alarm.Classes() {
		m.alarmsFired.WithLabelValues(class.String())
		m.detected.WithLabelValues(class.String())
	}

	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts a cooldown policy verdict.
func (m *Metrics) ObserveDecision(class alarm.Class, decision alarm.Decision) {
	if m == nil {
		return
	}

	if decision.Allowed() {
		m.alarmsFired.WithLabelValues(class.String()).Inc()

		return
	}

	m.alarmsSuppressed.WithLabelValues(class.String(), decision.String()).Inc()
}

// SetDetected records the latest verdict of class.
func (m *Metrics) SetDetected(class alarm.Class, detected bool) {
	if m == nil {
		return
	}

	value := 0.0
	if detected {
		value = 1
	}

	m.detected.WithLabelValues(class.String()).Set(value)
}

// ObserveNotification counts a delivery attempt.
func (m *Metrics) ObserveNotification(class alarm.Class, kind string, err error) {
	if m == nil {
		return
	}

	status := "sent"
	if err != nil {
		status = "failed"
	}

	m.notifications.WithLabelValues(class.String(), kind, status).Inc()
}

// ObservePlaybackFailure counts a failed alarm sound.
func (m *Metrics) ObservePlaybackFailure(class alarm.Class) {
	if m == nil {
		return
	}

	m.playbackFailures.WithLabelValues(class.String()).Inc()
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}

	m.runActive.Set(1)
}

// RunStopped marks the run as finished with reason ("stopped" or "failed").
func (m *Metrics) RunStopped(reason string) {
	if m == nil {
		return
	}

	m.runActive.Set(0)
	m.runsStopped.WithLabelValues(reason).Inc()
}
