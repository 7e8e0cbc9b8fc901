package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller's Prometheus collectors. They are driven by
// reducer broadcasts, so they always agree with what websocket clients see.
type Metrics struct {
	registry *prometheus.Registry

	targetFPS        prometheus.Gauge
	nativeFPS        prometheus.Gauge
	filteredDropRate prometheus.Gauge
	phase            prometheus.Gauge

	targetChanges  *prometheus.CounterVec
	samplesSkipped *prometheus.CounterVec
	staleTimers    prometheus.Counter
	sessions       prometheus.Counter
	warnings       prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry, together with the
// standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		targetFPS: f.NewGauge(prometheus.GaugeOpts{
			Name: "framegov_target_fps",
			Help: "Frame rate currently enforced by the rate-limiting filter",
		}),
		nativeFPS: f.NewGauge(prometheus.GaugeOpts{
			Name: "framegov_native_fps",
			Help: "Native frame rate of the current video",
		}),
		filteredDropRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "framegov_filtered_drop_rate",
			Help: "Trimmed-mean dropped frames per second over the steady-state window",
		}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "framegov_phase",
			Help: "Controller phase (0=idle 1=armed 2=calibrating 3=steady 4=disabled)",
		}),

		targetChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framegov_target_changes_total",
			Help: "Total number of target frame rate changes",
		}, []string{"direction"}),
		samplesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framegov_samples_skipped_total",
			Help: "Total number of sampling ticks that produced no sample",
		}, []string{"reason"}),
		staleTimers: f.NewCounter(prometheus.CounterOpts{
			Name: "framegov_stale_timer_events_total",
			Help: "Total number of timer events ignored because their timer was no longer active",
		}),
		sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "framegov_sessions_total",
			Help: "Total number of video sessions started",
		}),
		warnings: f.NewCounter(prometheus.CounterOpts{
			Name: "framegov_performance_warnings_total",
			Help: "Total number of low-performance warnings shown",
		}),
	}
}

// Observe updates collectors from one reducer broadcast.
func (m *Metrics) Observe(b StateBroadcast) {
	if m == nil {
		return
	}

	switch ev := b.(type) {
	case BroadcastSessionStarted:
		m.sessions.Inc()
		m.nativeFPS.Set(float64(ev.NativeFPS))
		m.targetFPS.Set(float64(ev.NativeFPS))
		m.filteredDropRate.Set(0)

	case BroadcastPhaseChanged:
		m.phase.Set(float64(ev.To))
		if ev.To == PhaseIdle {
			m.targetFPS.Set(0)
			m.nativeFPS.Set(0)
			m.filteredDropRate.Set(0)
		}

	case BroadcastTargetChanged:
		direction := "up"
		if ev.To < ev.From {
			direction = "down"
		}
		m.targetChanges.WithLabelValues(direction).Inc()
		m.targetFPS.Set(float64(ev.To))

	case BroadcastDropRateSampled:
		if ev.FilteredKnown {
			m.filteredDropRate.Set(ev.Filtered)
		}

	case BroadcastSampleSkipped:
		m.samplesSkipped.WithLabelValues(ev.Reason).Inc()

	case BroadcastStaleTimer:
		m.staleTimers.Inc()

	case BroadcastPerformanceWarning:
		m.warnings.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
