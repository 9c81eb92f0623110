// Package main — cmd/cynic-sim/main.go
//
// CYNIC Committee Reliability Simulator.
//
// Purpose: validate, before a release, that the organism's dog
// committee reaches quorum and produces bounded judgments reliably
// across a large batch of synthetic cells — the release gate CYNIC
// checks in place of a staged rollout.
//
// Each simulated cell is judged by a full in-process organism (the same
// wiring cmd/cynic uses, minus the network-facing metrics server) at a
// fixed consciousness level. A cycle's outcome is one of: a committed
// Judgment, an InsufficientQuorum failure, or another error.
//
// Reliability condition:
//
//	P(quorum reached) >= min_quorum_rate   over N simulated cells
//
// Output: per-cycle CSV to stdout (step, cell_id, level, verdict,
// q_score, confidence, residual_variance, outcome, duration_ms).
// Summary: reliability condition result to stderr, exit 0 on pass,
// exit 2 on fail.
//
// Usage:
//
//	cynic-sim [flags]
//	cynic-sim -cells 5000 -level MACRO -min-quorum-rate 0.95
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/audit"
	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/budget"
	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/config"
	"github.com/zeyxx/cynic/internal/consensus"
	"github.com/zeyxx/cynic/internal/cynicerr"
	"github.com/zeyxx/cynic/internal/dogs"
	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/learning"
	"github.com/zeyxx/cynic/internal/orchestrator"
	"github.com/zeyxx/cynic/internal/state"
)

func main() {
	cells := flag.Int("cells", 1000, "Number of synthetic cells to simulate")
	level := flag.String("level", "MACRO", "Consciousness level to pin every cell to (REFLEX/MICRO/MACRO/META)")
	minQuorumRate := flag.Float64("min-quorum-rate", 0.95, "Minimum fraction of cycles required to reach quorum")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	dbPath := flag.String("db", "", "BoltDB path; empty uses a scratch temp file")
	flag.Parse()

	if !judgment.ValidLevel(*level) {
		fmt.Fprintf(os.Stderr, "ERROR: -level must be one of REFLEX/MICRO/MACRO/META, got %q\n", *level)
		os.Exit(1)
	}
	if *cells < 1 {
		fmt.Fprintln(os.Stderr, "ERROR: -cells must be >= 1")
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("cynic-sim-%d.db", time.Now().UnixNano()))
		defer os.Remove(path)
	}

	orc, cleanup, err := buildOrganism(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to assemble organism: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	rng := rand.New(rand.NewSource(*seed))
	results := make([]cycleResult, *cells)

	now := time.Now()
	for i := 0; i < *cells; i++ {
		cell := syntheticCell(rng, *level, now)
		start := time.Now()
		j, runErr := orc.RunCycle(context.Background(), cell, now.Add(time.Duration(i)*time.Millisecond))
		elapsed := time.Since(start)

		r := cycleResult{Step: i, CellID: cell.CellID, Level: *level, DurationMS: elapsed.Milliseconds()}
		switch {
		case runErr == nil:
			r.Outcome = "judged"
			r.Verdict = string(j.Verdict)
			r.QScore = j.QScore
			r.Confidence = j.Confidence
			r.ResidualVariance = j.ResidualVariance
			r.QuorumReached = true
		case cynicerr.KindOf(runErr) == cynicerr.KindInsufficientQuorum:
			r.Outcome = "insufficient_quorum"
		default:
			r.Outcome = "error: " + runErr.Error()
		}
		results[i] = r
	}

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"step", "cell_id", "level", "verdict", "q_score", "confidence", "residual_variance", "outcome", "duration_ms"})
	for _, r := range results {
		_ = w.Write([]string{
			strconv.Itoa(r.Step),
			r.CellID,
			r.Level,
			r.Verdict,
			strconv.FormatFloat(r.QScore, 'f', 3, 64),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			strconv.FormatFloat(r.ResidualVariance, 'f', 4, 64),
			r.Outcome,
			strconv.FormatInt(r.DurationMS, 10),
		})
	}
	w.Flush()

	reached := 0
	var qScoreSum, confidenceSum float64
	for _, r := range results {
		if r.QuorumReached {
			reached++
			qScoreSum += r.QScore
			confidenceSum += r.Confidence
		}
	}
	rate := float64(reached) / float64(*cells)

	fmt.Fprintf(os.Stderr, "\n=== COMMITTEE RELIABILITY RESULT ===\n")
	fmt.Fprintf(os.Stderr, "Cells simulated:        %d\n", *cells)
	fmt.Fprintf(os.Stderr, "Level:                  %s\n", *level)
	fmt.Fprintf(os.Stderr, "Quorum reached:         %d / %d (%.1f%%)\n", reached, *cells, rate*100)
	if reached > 0 {
		fmt.Fprintf(os.Stderr, "Mean q_score:           %.3f\n", qScoreSum/float64(reached))
		fmt.Fprintf(os.Stderr, "Mean confidence:        %.4f\n", confidenceSum/float64(reached))
	}
	fmt.Fprintf(os.Stderr, "Reliability condition (P >= %.2f): %v\n", *minQuorumRate, rate >= *minQuorumRate)

	if rate >= *minQuorumRate {
		fmt.Fprintf(os.Stderr, "RESULT: PASS — committee reaches quorum reliably\n")
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "RESULT: FAIL — reliability condition not satisfied\n")
	fmt.Fprintf(os.Stderr, "  Check the dog roster and retry policy for undersized committees.\n")
	os.Exit(2)
}

// cycleResult is one simulated cycle's outcome, in CSV row order.
type cycleResult struct {
	Step             int
	CellID           string
	Level            string
	Verdict          string
	QScore           float64
	Confidence       float64
	ResidualVariance float64
	Outcome          string
	DurationMS       int64
	QuorumReached    bool
}

var simRealities = []judgment.Reality{
	judgment.RealityCode, judgment.RealitySolana, judgment.RealityMarket,
	judgment.RealitySocial, judgment.RealityHuman, judgment.RealitySelf, judgment.RealityCosmos,
}

var simTimeDims = []judgment.TimeDim{judgment.TimePast, judgment.TimePresent, judgment.TimeFuture}

// syntheticCell builds a pseudo-random Cell pinned to level.
func syntheticCell(rng *rand.Rand, level string, now time.Time) *judgment.Cell {
	content := fmt.Sprintf("synthetic-content-%d", rng.Int63())
	context := fmt.Sprintf("synthetic-context-%d", rng.Int63())
	reality := simRealities[rng.Intn(len(simRealities))]
	timeDim := simTimeDims[rng.Intn(len(simTimeDims))]
	lod := judgment.LOD(rng.Intn(4))

	cell, err := judgment.NewCell(reality, "simulated analysis", timeDim, content, context, lod, 1.0, now)
	if err != nil {
		// budgetUSD is a fixed positive constant above, so NewCell cannot
		// fail here; a panic would indicate a broken constant, not bad input.
		panic(err)
	}
	cell.Level = level
	return cell
}

// buildOrganism assembles the same collaborator graph cmd/cynic wires at
// startup, scaled up on the budget side so the simulation measures
// committee/consensus reliability rather than budget exhaustion.
func buildOrganism(dbPath string) (*orchestrator.Orchestrator, func(), error) {
	log := zap.NewNop()

	store, err := state.OpenBoltStore(dbPath, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open bolt store: %w", err)
	}
	organism := state.NewOrganism(store, "", log, nil, nil)

	eventBus := bus.New(config.Defaults().Bus.QueueCapacity, log, nil)
	catalog := axiom.NewCatalog()
	committee, err := dogs.NewCommittee(dogs.DefaultRoster(), dogs.DefaultRetryPolicy(), log, nil)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build committee: %w", err)
	}
	consensusEngine := consensus.NewEngine(catalog)
	judgmentEngine := judgment.NewEngine(catalog)

	learningEngine, err := learning.NewEngine(organism, eventBus, config.Defaults().Learning, log, nil)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build learning engine: %w", err)
	}

	bucket := budget.New(1_000_000, time.Hour)
	ledger := budget.NewLedger(1_000_000, time.Now())
	auditKernel := audit.NewKernel(false)

	cfg := config.Defaults().Orchestrator
	orc := orchestrator.New(organism, eventBus, committee, consensusEngine, judgmentEngine,
		learningEngine, bucket, ledger, auditKernel, catalog, cfg, log, nil)

	cleanup := func() {
		bucket.Close()
		eventBus.Close()
		store.Close()
	}
	return orc, cleanup, nil
}
