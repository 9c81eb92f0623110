package orchestrator_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
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

type testRig struct {
	orc *orchestrator.Orchestrator
	org *state.Organism
	bus *bus.Bus
}

func newRig(t *testing.T, latency config.LevelLatency) *testRig {
	t.Helper()
	dir := t.TempDir()
	store, err := state.OpenBoltStore(filepath.Join(dir, "cynic.db"), 30)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	org := state.NewOrganism(store, filepath.Join(dir, "state"), zap.NewNop(), nil, nil)
	b := bus.New(16, zap.NewNop(), nil)

	committee, err := dogs.NewCommittee(dogs.DefaultRoster(), dogs.DefaultRetryPolicy(), zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewCommittee: %v", err)
	}

	catalog := axiom.NewCatalog()
	consensusEngine := consensus.NewEngine(catalog)
	judgmentEngine := judgment.NewEngine(catalog)

	learningCfg := config.Defaults().Learning
	learningEngine, err := learning.NewEngine(org, b, learningCfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("learning.NewEngine: %v", err)
	}

	now := time.Now()
	bucket := budget.New(1000, time.Hour)
	t.Cleanup(bucket.Close)
	ledger := budget.NewLedger(1000, now)
	auditKernel := audit.NewKernel(false)

	cfg := config.OrchestratorConfig{TargetLatency: latency, DefaultLevel: string(judgment.LevelMacro)}

	orc := orchestrator.New(org, b, committee, consensusEngine, judgmentEngine, learningEngine,
		bucket, ledger, auditKernel, catalog, cfg, zap.NewNop(), nil)

	return &testRig{orc: orc, org: org, bus: b}
}

func testLatency() config.LevelLatency {
	return config.LevelLatency{
		Reflex: 20 * time.Millisecond,
		Micro:  200 * time.Millisecond,
		Macro:  500 * time.Millisecond,
		Meta:   800 * time.Millisecond,
	}
}

func newTestCell(t *testing.T, level judgment.Level) *judgment.Cell {
	t.Helper()
	c, err := judgment.NewCell(judgment.RealityCode, "analysis", judgment.TimePresent,
		"some content to evaluate", "some context", judgment.LOD1, 10.0, time.Now())
	if err != nil {
		t.Fatalf("NewCell: %v", err)
	}
	c.Level = string(level)
	return c
}

func TestRunCycleHappyMacroPath(t *testing.T) {
	rig := newRig(t, testLatency())
	cell := newTestCell(t, judgment.LevelMacro)

	j, err := rig.orc.RunCycle(context.Background(), cell, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if j.LevelUsed != judgment.LevelMacro {
		t.Fatalf("expected level MACRO, got %v", j.LevelUsed)
	}
	if j.QScore < 0 || j.QScore > 100 {
		t.Fatalf("q_score out of range: %v", j.QScore)
	}
	recent := rig.org.RecentJudgments()
	if len(recent) != 1 {
		t.Fatalf("expected judgment committed to organism state, got %d", len(recent))
	}
}

func TestRunCycleBudgetForcesDowngrade(t *testing.T) {
	rig := newRig(t, testLatency())
	cell := newTestCell(t, judgment.LevelMacro)

	var mu sync.Mutex
	var changed []bus.Event
	rig.bus.Subscribe(bus.ConsciousnessLevelChanged, "test-downgrade-watcher", func(ev bus.Event) error {
		mu.Lock()
		changed = append(changed, ev)
		mu.Unlock()
		return nil
	})

	exhausted := false
	var j *judgment.Judgment
	var err error
	for attempt := 0; attempt < 200; attempt++ {
		j, err = rig.orc.RunCycle(context.Background(), cell, time.Now())
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
		if j.LevelUsed != judgment.LevelMacro {
			exhausted = true
			break
		}
	}
	if !exhausted {
		t.Fatal("expected repeated MACRO cycles to eventually exhaust the token bucket and downgrade")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changed)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changed) == 0 {
		t.Fatal("expected a CONSCIOUSNESS_LEVEL_CHANGED event on downgrade")
	}
}

func TestRunCycleInsufficientQuorumWithNoCommittee(t *testing.T) {
	dir := t.TempDir()
	store, err := state.OpenBoltStore(filepath.Join(dir, "cynic.db"), 30)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer store.Close()
	org := state.NewOrganism(store, "", zap.NewNop(), nil, nil)
	b := bus.New(16, zap.NewNop(), nil)

	committee, err := dogs.NewCommittee(nil, dogs.DefaultRetryPolicy(), zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewCommittee: %v", err)
	}
	catalog := axiom.NewCatalog()
	consensusEngine := consensus.NewEngine(catalog)
	judgmentEngine := judgment.NewEngine(catalog)
	learningEngine, err := learning.NewEngine(org, b, config.Defaults().Learning, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("learning.NewEngine: %v", err)
	}
	now := time.Now()
	bucket := budget.New(1000, time.Hour)
	defer bucket.Close()
	ledger := budget.NewLedger(1000, now)
	auditKernel := audit.NewKernel(false)
	cfg := config.OrchestratorConfig{TargetLatency: testLatency(), DefaultLevel: string(judgment.LevelMacro)}

	orc := orchestrator.New(org, b, committee, consensusEngine, judgmentEngine, learningEngine,
		bucket, ledger, auditKernel, catalog, cfg, zap.NewNop(), nil)

	cell := newTestCell(t, judgment.LevelMacro)
	_, err = orc.RunCycle(context.Background(), cell, now)
	if cynicerr.KindOf(err) != cynicerr.KindInsufficientQuorum {
		t.Fatalf("expected InsufficientQuorum, got %v", err)
	}
	if len(org.RecentJudgments()) != 0 {
		t.Fatal("expected no judgment committed on insufficient quorum")
	}
}

func TestRunCycleReflexTimeoutReturnsDegradedJudgment(t *testing.T) {
	latency := config.LevelLatency{
		Reflex: 1 * time.Nanosecond,
		Micro:  200 * time.Millisecond,
		Macro:  500 * time.Millisecond,
		Meta:   800 * time.Millisecond,
	}
	rig := newRig(t, latency)
	cell := newTestCell(t, judgment.LevelReflex)

	j, err := rig.orc.RunCycle(context.Background(), cell, time.Now())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if j.Verdict != axiom.Growl {
		t.Fatalf("expected degraded verdict GROWL, got %v", j.Verdict)
	}
	if diff := j.Confidence - axiom.PHI_INV_2; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected degraded confidence near phi^-2 (%v), got %v", axiom.PHI_INV_2, j.Confidence)
	}
	if j.ResidualVariance != 1.0 {
		t.Fatalf("expected degraded residual_variance 1.0, got %v", j.ResidualVariance)
	}
}

func TestRunCycleCancelledContextAtMacroSurfacesError(t *testing.T) {
	rig := newRig(t, testLatency())
	cell := newTestCell(t, judgment.LevelMacro)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rig.orc.RunCycle(ctx, cell, time.Now())
	if err == nil {
		t.Fatal("expected an error from an already-cancelled context at MACRO level")
	}
}
