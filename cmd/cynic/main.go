// Package main — cmd/cynic/main.go
//
// CYNIC organism entrypoint.
//
// Startup sequence:
//  1. Load and validate config.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open BoltDB storage, construct Organism state, recover persisted layer.
//  4. Construct the event bus.
//  5. Construct the axiom catalog, dog committee, consensus/judgment
//     engines, learning loop, and cost/budget governor.
//  6. Construct the orchestrator and wire it to the bus's inbound event
//     types (PERCEIVE_REQUESTED, LEARNING_SIGNAL, ACT_COMPLETED).
//  7. Start the Prometheus metrics server.
//  8. Register SIGHUP handler for config hot-reload.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context.
//  2. Stop the metrics server and event bus.
//  3. Persist organism state, close BoltDB.
//  4. Flush logger, exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zeyxx/cynic/internal/audit"
	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/budget"
	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/config"
	"github.com/zeyxx/cynic/internal/consensus"
	"github.com/zeyxx/cynic/internal/dogs"
	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/learning"
	"github.com/zeyxx/cynic/internal/observability"
	"github.com/zeyxx/cynic/internal/orchestrator"
	"github.com/zeyxx/cynic/internal/state"
)

func main() {
	configPath := flag.String("config", "/etc/cynic/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("cynic %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("CYNIC starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("organism_id", cfg.OrganismID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.OpenBoltStore(cfg.Storage.DBPath, cfg.Storage.ActionRetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer store.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	metrics := observability.NewMetrics()

	organism := state.NewOrganism(store, cfg.Storage.SnapshotDir, log, metrics, func(ev state.EvictionEvent) {
		log.Debug("judgment ring evicted entry", zap.String("judgment_id", ev.ID))
	})
	if err := organism.Recover(); err != nil {
		log.Warn("organism state recovery failed — starting from bolt-only state", zap.Error(err))
	}

	pruned, err := store.PruneCompletedActions()
	if err != nil {
		log.Warn("completed-action pruning failed", zap.Error(err))
	} else {
		log.Info("completed actions pruned", zap.Int("deleted", pruned))
	}

	eventBus := bus.New(cfg.Bus.QueueCapacity, log, metrics)

	catalog := axiom.NewCatalog()

	roles := make([]dogs.Role, len(cfg.Dogs.Roster))
	for i, entry := range cfg.Dogs.Roster {
		dims := make([]axiom.DimensionID, len(entry.Dimensions))
		for j, d := range entry.Dimensions {
			dims[j] = axiom.DimensionID(d)
		}
		roles[i] = dogs.Role{DogID: entry.DogID, Dimensions: dims, Adapter: entry.Adapter}
	}
	retryPolicy := dogs.RetryPolicy{
		MaxAttempts:  cfg.Dogs.RetryMaxAttempts,
		InitialDelay: cfg.Dogs.RetryInitialDelay,
		MaxDelay:     cfg.Dogs.RetryMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
	committee, err := dogs.NewCommittee(roles, retryPolicy, log, metrics)
	if err != nil {
		log.Fatal("dog committee construction failed", zap.Error(err))
	}
	log.Info("dog committee assembled", zap.Int("dog_count", committee.Size()))

	consensusEngine := consensus.NewEngine(catalog)
	judgmentEngine := judgment.NewEngine(catalog)

	learningEngine, err := learning.NewEngine(organism, eventBus, cfg.Learning, log, metrics)
	if err != nil {
		log.Fatal("learning engine construction failed", zap.Error(err))
	}

	now := time.Now()
	bucket := budget.New(cfg.Budget.Capacity, cfg.Budget.RefillPeriod)
	defer bucket.Close()
	ledger := budget.NewLedger(cfg.Budget.GlobalDailyCapUSD, now)
	auditKernel := audit.NewKernel(false)

	orc := orchestrator.New(organism, eventBus, committee, consensusEngine, judgmentEngine,
		learningEngine, bucket, ledger, auditKernel, catalog, cfg.Orchestrator, log, metrics)

	wireInboundEvents(ctx, eventBus, orc, learningEngine, log)

	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// Only non-destructive fields are safe to hot-swap: the
			// orchestrator's target latencies and default level are read
			// fresh from cfg on every cycle via the struct it already
			// holds, so copy the new values into that struct in place.
			// The dog roster, bus queue capacity, and storage paths
			// require a restart, per this package's documented contract.
			orc.UpdateConfig(newCfg.Orchestrator)
			log.Info("config hot-reload successful",
				zap.String("new_default_level", newCfg.Orchestrator.DefaultLevel))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	eventBus.Close()

	if err := organism.Persist(); err != nil {
		log.Error("final state persist failed", zap.Error(err))
	}

	log.Info("CYNIC shutdown complete")
}

// wireInboundEvents subscribes the orchestrator and learning loop to the
// bus's inbound event types, per spec.md §6: PERCEIVE_REQUESTED carries
// the Cell to judge, LEARNING_SIGNAL carries an outcome reward, and
// ACT_COMPLETED acknowledges a downstream action. A Cell payload
// distinguishes an inbound judging request from the orchestrator's own
// bookkeeping PERCEIVE_REQUESTED emission (which carries a plain map),
// so the two never loop into each other.
func wireInboundEvents(ctx context.Context, b *bus.Bus, orc *orchestrator.Orchestrator, learningEngine *learning.Engine, log *zap.Logger) {
	b.Subscribe(bus.PerceiveRequested, "orchestrator.intake", func(ev bus.Event) error {
		cell, ok := ev.Payload.(*judgment.Cell)
		if !ok {
			return nil
		}
		if _, err := orc.RunCycle(ctx, cell, ev.CreatedAt); err != nil {
			log.Warn("cycle failed", zap.String("cell_id", cell.CellID), zap.Error(err))
		}
		return nil
	})

	b.Subscribe(bus.LearningSignal, "learning.intake", func(ev bus.Event) error {
		sig, ok := ev.Payload.(LearningSignalPayload)
		if !ok {
			return nil
		}
		kind := learning.OutcomeNeutral
		if sig.Reward > 0 {
			kind = learning.OutcomeSuccess
		} else if sig.Reward < 0 {
			kind = learning.OutcomeFailure
		}
		quality := sig.Reward
		if quality < 0 {
			quality = -quality
		}
		reward := learning.RewardFor(kind, quality)
		learningEngine.UpdateQ(learning.Observation{
			StateSignature: sig.CellSignature,
			ActionID:       sig.DogID,
			Reward:         reward,
		})
		if sig.DogID != "" {
			learningEngine.OnRouteOutcome(sig.CellSignature, sig.DogID, sig.Reward > 0)
		}
		return nil
	})

	b.Subscribe(bus.ActCompleted, "orchestrator.act_completed", func(ev bus.Event) error {
		log.Debug("action completed", zap.Any("payload", ev.Payload))
		return nil
	})
}

// LearningSignalPayload is the Go-side shape of the LEARNING_SIGNAL
// event's payload described in spec.md §6.
type LearningSignalPayload struct {
	Kind          string
	JudgmentID    string
	CellSignature string
	DogID         string
	Reward        float64
	Metadata      map[string]any
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
