// Package observability — metrics.go
//
// Prometheus metrics for battsafe-agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
//
// Metric naming convention: battsafe_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Grounded on octoreflex's internal/observability/metrics.go: the same
// dedicated-registry construction, the same /metrics + /healthz mux, and
// the same uptime-gauge background updater, re-pointed at the scheduler's
// cycle/anomaly/correlation/wire counters instead of kernel-event ones.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor for battsafe-agent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scheduler ────────────────────────────────────────────────────────────

	// CyclesTotal counts loop invocations, by loop name (fast, medium, slow).
	CyclesTotal *prometheus.CounterVec

	// AlertModeActive is 1 while the scheduler is in the accelerated alert
	// profile, 0 while in the normal profile.
	AlertModeActive prometheus.Gauge

	// InputTimeoutsTotal counts transitions back to the fallback producer
	// after EXTERNAL_INPUT_TIMEOUT.
	InputTimeoutsTotal prometheus.Counter

	// ─── Anomaly evaluator ────────────────────────────────────────────────────

	// AnomalyCategoryActive is a gauge set to 1/0 per category bit, by
	// category name.
	AnomalyCategoryActive *prometheus.GaugeVec

	// RiskFactor is the most recent risk_factor value, [0,1].
	RiskFactor prometheus.Gauge

	// CascadeStage is the most recent cascade_stage value, 0..6.
	CascadeStage prometheus.Gauge

	// ─── Correlation ──────────────────────────────────────────────────────────

	// StateTransitionsTotal counts state transitions, by from_state and
	// to_state.
	StateTransitionsTotal *prometheus.CounterVec

	// EmergencyLatched is 1 while the emergency latch is engaged.
	EmergencyLatched prometheus.Gauge

	// ─── Wire codecs & receiver ───────────────────────────────────────────────

	// FramesEncodedTotal counts output frames encoded, by type (pack, module).
	FramesEncodedTotal *prometheus.CounterVec

	// TransportSendFailuresTotal counts non-fatal transport.send errors.
	TransportSendFailuresTotal prometheus.Counter

	// ReceiverResyncTotal counts receiver resync events (checksum or
	// length/type rejections).
	ReceiverResyncTotal prometheus.Counter

	// ReceiverChecksumFailuresTotal counts checksum mismatches specifically.
	ReceiverChecksumFailuresTotal prometheus.Counter

	// SnapshotsCompletedTotal counts full snapshots assembled by the receiver.
	SnapshotsCompletedTotal prometheus.Counter

	// ─── Self-check ───────────────────────────────────────────────────────────

	// RelayArmed is 1 iff the safety-arm latch is currently armed.
	RelayArmed prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers every battsafe-agent Prometheus metric.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total loop invocations, by loop name.",
		}, []string{"loop"}),

		AlertModeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "scheduler",
			Name:      "alert_mode_active",
			Help:      "1 while the scheduler runs the accelerated alert profile.",
		}),

		InputTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "scheduler",
			Name:      "input_timeouts_total",
			Help:      "Total transitions to the deterministic fallback producer.",
		}),

		AnomalyCategoryActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "anomaly",
			Name:      "category_active",
			Help:      "1/0 per anomaly category bit, by category name.",
		}, []string{"category"}),

		RiskFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "anomaly",
			Name:      "risk_factor",
			Help:      "Most recent bounded [0,1] risk factor.",
		}),

		CascadeStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "anomaly",
			Name:      "cascade_stage",
			Help:      "Most recent thermal cascade stage, 0-6.",
		}),

		StateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "correlation",
			Name:      "state_transitions_total",
			Help:      "Total correlation state transitions, by from_state and to_state.",
		}, []string{"from_state", "to_state"}),

		EmergencyLatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "correlation",
			Name:      "emergency_latched",
			Help:      "1 while the emergency latch is engaged.",
		}),

		FramesEncodedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "wire",
			Name:      "frames_encoded_total",
			Help:      "Total output frames encoded, by frame type.",
		}, []string{"type"}),

		TransportSendFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "wire",
			Name:      "transport_send_failures_total",
			Help:      "Total non-fatal transport.send errors.",
		}),

		ReceiverResyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "receiver",
			Name:      "resync_total",
			Help:      "Total receiver resync events.",
		}),

		ReceiverChecksumFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "receiver",
			Name:      "checksum_failures_total",
			Help:      "Total input frame checksum mismatches.",
		}),

		SnapshotsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "battsafe",
			Subsystem: "receiver",
			Name:      "snapshots_completed_total",
			Help:      "Total full snapshots assembled from the input stream.",
		}),

		RelayArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "selfcheck",
			Name:      "relay_armed",
			Help:      "1 iff the relay safety-arm latch is currently armed.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "battsafe",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.AlertModeActive,
		m.InputTimeoutsTotal,
		m.AnomalyCategoryActive,
		m.RiskFactor,
		m.CascadeStage,
		m.StateTransitionsTotal,
		m.EmergencyLatched,
		m.FramesEncodedTotal,
		m.TransportSendFailuresTotal,
		m.ReceiverResyncTotal,
		m.ReceiverChecksumFailuresTotal,
		m.SnapshotsCompletedTotal,
		m.RelayArmed,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
