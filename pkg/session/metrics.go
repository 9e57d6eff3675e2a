package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	FramesTotal     *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
	ParseErrors     prometheus.Counter
	SessionsTotal   *prometheus.CounterVec
	SessionActive   prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicelive"
	}
	registry := prometheus.NewRegistry()

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total frames on the duplex channel",
		},
		[]string{"direction", "kind"},
	)
	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes on the duplex channel",
		},
		[]string{"direction"},
	)
	parseErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound control frames dropped as malformed",
		},
	)
	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions by terminal status",
		},
		[]string{"status"},
	)
	sessionActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "Whether a session is currently active",
		},
	)

	registry.MustRegister(framesTotal, audioBytesTotal, parseErrors, sessionsTotal, sessionActive)

	return &Metrics{
		registry:        registry,
		FramesTotal:     framesTotal,
		AudioBytesTotal: audioBytesTotal,
		ParseErrors:     parseErrors,
		SessionsTotal:   sessionsTotal,
		SessionActive:   sessionActive,
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) frame(direction, kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) audioBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) parseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

func (m *Metrics) sessionStart() {
	if m == nil {
		return
	}
	m.SessionActive.Set(1)
}

func (m *Metrics) sessionEnd(status string) {
	if m == nil {
		return
	}
	m.SessionActive.Set(0)
	m.SessionsTotal.WithLabelValues(status).Inc()
}
