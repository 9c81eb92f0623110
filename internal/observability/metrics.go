// Package observability — metrics.go
//
// Prometheus metrics for the CYNIC organism.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: cynic_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Verdict/level labels use the closed string enums (4 and 4 values).
//   - cell_id is NOT used as a label (unbounded cardinality).
//   - Per-cell metrics are aggregated before recording.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for CYNIC.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event bus ────────────────────────────────────────────────────────────

	// BusEventsEmittedTotal counts events successfully dispatched.
	// Labels: event_type
	BusEventsEmittedTotal *prometheus.CounterVec

	// BusEventsDroppedTotal counts events dropped due to subscriber
	// queue overflow. Labels: event_type
	BusEventsDroppedTotal *prometheus.CounterVec

	// ─── Judgment / consensus ─────────────────────────────────────────────────

	// QScoreHistogram records the distribution of Q-scores.
	QScoreHistogram prometheus.Histogram

	// JudgmentsTotal counts judgments produced, by verdict.
	JudgmentsTotal *prometheus.CounterVec

	// ConsensusFailuresTotal counts cycles that failed to reach quorum.
	ConsensusFailuresTotal prometheus.Counter

	// ResidualVarianceHistogram records residual_variance across cycles.
	ResidualVarianceHistogram prometheus.Histogram

	// ─── Orchestrator ─────────────────────────────────────────────────────────

	// CyclesTotal counts orchestrator cycles, by level.
	CyclesTotal *prometheus.CounterVec

	// CycleDurationSeconds records cycle wall-clock duration, by level.
	CycleDurationSeconds *prometheus.HistogramVec

	// LevelDowngradesTotal counts budget-forced in-flight level downgrades.
	LevelDowngradesTotal prometheus.Counter

	// ─── Dogs ─────────────────────────────────────────────────────────────────

	// DogCallsTotal counts adapter invocations, by dog name and outcome.
	DogCallsTotal *prometheus.CounterVec

	// DogLatencySeconds records adapter call latency, by dog name.
	DogLatencySeconds *prometheus.HistogramVec

	// ─── Learning ─────────────────────────────────────────────────────────────

	// QTableUpdatesTotal counts Q-table updates applied.
	QTableUpdatesTotal prometheus.Counter

	// AxiomPromotionsTotal counts residual dimensions promoted to axioms.
	AxiomPromotionsTotal prometheus.Counter

	// ─── Budget ───────────────────────────────────────────────────────────────

	// BudgetTokensRemaining is the current token bucket level.
	BudgetTokensRemaining prometheus.Gauge

	// BudgetConsumedTotal counts total tokens consumed.
	BudgetConsumedTotal prometheus.Counter

	// BudgetRefillsTotal counts token bucket refill cycles.
	BudgetRefillsTotal prometheus.Counter

	// BudgetUSDSpentTotal counts lifetime USD spent across dog calls.
	BudgetUSDSpentTotal prometheus.Counter

	// ─── State / storage ──────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StateJudgmentRingDepth is the current depth of the in-memory judgment ring.
	StateJudgmentRingDepth prometheus.Gauge

	// ─── Organism ──────────────────────────────────────────────────────────────

	// OrganismUptimeSeconds is the number of seconds since organism start.
	OrganismUptimeSeconds prometheus.Gauge

	// startTime records when the organism started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all CYNIC Prometheus metrics.
// Returns a *Metrics with all descriptors initialised.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		BusEventsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "bus",
			Name:      "events_emitted_total",
			Help:      "Total events successfully dispatched on the event bus, by event type.",
		}, []string{"event_type"}),

		BusEventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Total events dropped due to subscriber queue overflow, by event type.",
		}, []string{"event_type"}),

		QScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cynic",
			Subsystem: "judgment",
			Name:      "q_score",
			Help:      "Distribution of Q-scores computed by the judgment engine.",
			Buckets:   []float64{10, 20, 30, 38, 45, 50, 60, 70, 82, 90, 100},
		}),

		JudgmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "judgment",
			Name:      "judgments_total",
			Help:      "Total judgments produced, by verdict.",
		}, []string{"verdict"}),

		ConsensusFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "consensus",
			Name:      "failures_total",
			Help:      "Total cycles that failed to reach committee quorum.",
		}),

		ResidualVarianceHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cynic",
			Subsystem: "consensus",
			Name:      "residual_variance",
			Help:      "Distribution of residual_variance across cycles.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total orchestrator cycles run, by consciousness level.",
		}, []string{"level"}),

		CycleDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cynic",
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Cycle wall-clock duration, by consciousness level.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"level"}),

		LevelDowngradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "orchestrator",
			Name:      "level_downgrades_total",
			Help:      "Total budget-forced in-flight consciousness-level downgrades.",
		}),

		DogCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "dogs",
			Name:      "calls_total",
			Help:      "Total dog adapter invocations, by dog name and outcome.",
		}, []string{"dog", "outcome"}),

		DogLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cynic",
			Subsystem: "dogs",
			Name:      "latency_seconds",
			Help:      "Dog adapter call latency, by dog name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"dog"}),

		QTableUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "learning",
			Name:      "q_table_updates_total",
			Help:      "Total Q-table updates applied.",
		}),

		AxiomPromotionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "learning",
			Name:      "axiom_promotions_total",
			Help:      "Total residual dimensions promoted to first-class axioms.",
		}),

		BudgetTokensRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic",
			Subsystem: "budget",
			Name:      "tokens_remaining",
			Help:      "Current token bucket level.",
		}),

		BudgetConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "budget",
			Name:      "consumed_total",
			Help:      "Lifetime total tokens consumed from the budget bucket.",
		}),

		BudgetRefillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "budget",
			Name:      "refills_total",
			Help:      "Total number of token bucket refill cycles completed.",
		}),

		BudgetUSDSpentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cynic",
			Subsystem: "budget",
			Name:      "usd_spent_total",
			Help:      "Lifetime USD spent across dog calls.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cynic",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StateJudgmentRingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic",
			Subsystem: "state",
			Name:      "judgment_ring_depth",
			Help:      "Current depth of the in-memory judgment ring buffer.",
		}),

		OrganismUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cynic",
			Subsystem: "organism",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the organism started.",
		}),
	}

	reg.MustRegister(
		m.BusEventsEmittedTotal,
		m.BusEventsDroppedTotal,
		m.QScoreHistogram,
		m.JudgmentsTotal,
		m.ConsensusFailuresTotal,
		m.ResidualVarianceHistogram,
		m.CyclesTotal,
		m.CycleDurationSeconds,
		m.LevelDowngradesTotal,
		m.DogCallsTotal,
		m.DogLatencySeconds,
		m.QTableUpdatesTotal,
		m.AxiomPromotionsTotal,
		m.BudgetTokensRemaining,
		m.BudgetConsumedTotal,
		m.BudgetRefillsTotal,
		m.BudgetUSDSpentTotal,
		m.StorageWriteLatency,
		m.StateJudgmentRingDepth,
		m.OrganismUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
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

// updateUptime periodically updates the OrganismUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.OrganismUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
