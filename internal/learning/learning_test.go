package learning_test

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/config"
	"github.com/zeyxx/cynic/internal/learning"
	"github.com/zeyxx/cynic/internal/state"
)

func newTestEngine(t *testing.T) (*learning.Engine, *state.Organism, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	store, err := state.OpenBoltStore(filepath.Join(dir, "cynic.db"), 30)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	org := state.NewOrganism(store, filepath.Join(dir, "state"), zap.NewNop(), nil, nil)
	b := bus.New(0, zap.NewNop(), nil)

	cfg := config.Defaults().Learning
	e, err := learning.NewEngine(org, b, cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, org, b
}

func TestRewardForTernaryMapping(t *testing.T) {
	if got := learning.RewardFor(learning.OutcomeSuccess, 0.8); got != 0.8 {
		t.Fatalf("success reward = %v, want 0.8", got)
	}
	if got := learning.RewardFor(learning.OutcomeFailure, 0.8); got != -0.8 {
		t.Fatalf("failure reward = %v, want -0.8", got)
	}
	if got := learning.RewardFor(learning.OutcomeNeutral, 0.8); got != 0 {
		t.Fatalf("neutral reward = %v, want 0", got)
	}
	if got := learning.RewardFor(learning.OutcomeSuccess, 5); got != 1 {
		t.Fatalf("success reward with quality>1 = %v, want clamped to 1", got)
	}
}

func TestUpdateQConvergesTowardReward(t *testing.T) {
	e, _, _ := newTestEngine(t)
	obs := learning.Observation{StateSignature: "s1", ActionID: "phi-warden", Reward: 1}
	var last float64
	for i := 0; i < 200; i++ {
		last = e.UpdateQ(obs)
	}
	if last < 0.99 {
		t.Fatalf("expected Q-value to converge near the +1 reward after repeated updates, got %v", last)
	}
	if last > 100 {
		t.Fatalf("expected Q-value clamped to <=100, got %v", last)
	}
}

func TestUpdateQClampsToZeroFloor(t *testing.T) {
	e, _, _ := newTestEngine(t)
	obs := learning.Observation{StateSignature: "s1", ActionID: "phi-warden", Reward: -1}
	var last float64
	for i := 0; i < 200; i++ {
		last = e.UpdateQ(obs)
	}
	if last < 0 {
		t.Fatalf("expected Q-value clamped to >=0, got %v", last)
	}
}

func TestRouteReturnsRequestedCountFromCandidates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	candidates := []string{"a", "b", "c", "d", "e"}
	picked := e.Route("sig", candidates, 3)
	if len(picked) != 3 {
		t.Fatalf("expected 3 picks, got %d", len(picked))
	}
	seen := make(map[string]bool)
	for _, id := range picked {
		for _, c := range candidates {
			if id == c {
				seen[id] = true
			}
		}
	}
	if len(seen) != len(picked) {
		t.Fatalf("expected all picks to be distinct and drawn from candidates, got %v", picked)
	}
}

func TestRouteClampsToAvailableCandidates(t *testing.T) {
	e, _, _ := newTestEngine(t)
	picked := e.Route("sig", []string{"a", "b"}, 5)
	if len(picked) != 2 {
		t.Fatalf("expected topK clamped to len(candidates)=2, got %d", len(picked))
	}
}

func TestOnRouteOutcomeShiftsPosteriorTowardSuccessfulDog(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for i := 0; i < 50; i++ {
		e.OnRouteOutcome("sig", "reliable", true)
		e.OnRouteOutcome("sig", "unreliable", false)
	}
	wins := 0
	trials := 200
	for i := 0; i < trials; i++ {
		picked := e.Route("sig", []string{"reliable", "unreliable"}, 1)
		if len(picked) == 1 && picked[0] == "reliable" {
			wins++
		}
	}
	if wins < trials/2 {
		t.Fatalf("expected the dog with a strong success history to be picked more often, won %d/%d", wins, trials)
	}
}

func TestDetectResidualFiresExactlyOnceAtThreshold(t *testing.T) {
	e, _, _ := newTestEngine(t)
	now := time.Now()
	fired := 0
	for i := 0; i < 80; i++ {
		ok, err := e.DetectResidual("residual-sig", true, now)
		if err != nil {
			t.Fatalf("DetectResidual: %v", err)
		}
		if ok {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one promotion event, got %d", fired)
	}
}

func TestDetectResidualNeverFiresBelowRatioThreshold(t *testing.T) {
	e, _, _ := newTestEngine(t)
	now := time.Now()
	for i := 0; i < 80; i++ {
		// vote for promotion only 1 in 5 times: ratio well below PHI_INV
		ok, err := e.DetectResidual("residual-sig-2", i%5 == 0, now)
		if err != nil {
			t.Fatalf("DetectResidual: %v", err)
		}
		if ok {
			t.Fatal("expected no promotion under the ratio threshold")
		}
	}
}

func TestNewEngineRejectsUnparseablePromotionRule(t *testing.T) {
	dir := t.TempDir()
	store, err := state.OpenBoltStore(filepath.Join(dir, "cynic.db"), 30)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer store.Close()
	org := state.NewOrganism(store, "", zap.NewNop(), nil, nil)
	cfg := config.Defaults().Learning
	cfg.PromotionRule = "this is not ( valid expr"
	if _, err := learning.NewEngine(org, nil, cfg, zap.NewNop(), nil); err == nil {
		t.Fatal("expected an error compiling an invalid promotion rule")
	}
}
