package audit_test

import (
	"testing"
	"time"

	"github.com/zeyxx/cynic/internal/audit"
	"github.com/zeyxx/cynic/internal/axiom"
)

func TestValidateAndChainHappyPath(t *testing.T) {
	k := audit.NewKernel(false)
	now := time.Now()
	a, violations := k.ValidateAndChain("cell-1", "MICRO", map[string]any{"content": "x"}, axiom.Wag, 60.0, 0.5, now)
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
	if !a.ConstitutionalOK {
		t.Fatal("expected ConstitutionalOK true")
	}
	if a.ParentHash != "" {
		t.Fatal("expected empty parent hash for the first cycle")
	}
	if a.DecisionHash == "" {
		t.Fatal("expected a non-empty decision hash")
	}
}

func TestValidateAndChainLinksHashes(t *testing.T) {
	k := audit.NewKernel(false)
	now := time.Now()
	a1, _ := k.ValidateAndChain("cell-1", "MICRO", map[string]any{"content": "x"}, axiom.Wag, 60.0, 0.5, now)
	a2, _ := k.ValidateAndChain("cell-2", "MICRO", map[string]any{"content": "y"}, axiom.Growl, 40.0, 0.4, now.Add(time.Second))
	if a2.ParentHash != a1.DecisionHash {
		t.Fatalf("expected cycle 2's parent hash to equal cycle 1's decision hash")
	}
}

func TestValidateAndChainDetectsTimeRegression(t *testing.T) {
	k := audit.NewKernel(false)
	now := time.Now()
	k.ValidateAndChain("cell-1", "MICRO", map[string]any{"content": "x"}, axiom.Wag, 60.0, 0.5, now)
	_, violations := k.ValidateAndChain("cell-2", "MICRO", map[string]any{"content": "y"}, axiom.Wag, 60.0, 0.5, now.Add(-time.Second))
	if len(violations) == 0 {
		t.Fatal("expected a time_monotonicity violation")
	}
}

func TestValidateAndChainDetectsScoreAndConfidenceBounds(t *testing.T) {
	k := audit.NewKernel(false)
	now := time.Now()
	_, violations := k.ValidateAndChain("cell-1", "MICRO", map[string]any{"content": "x"}, axiom.Howl, 150.0, 0.9, now)
	if len(violations) < 2 {
		t.Fatalf("expected at least 2 violations (score + confidence), got %d", len(violations))
	}
}

func TestValidateAndChainDetectsMissingAuditTrail(t *testing.T) {
	k := audit.NewKernel(false)
	_, violations := k.ValidateAndChain("cell-1", "MICRO", map[string]any{}, axiom.Wag, 60.0, 0.5, time.Now())
	if len(violations) == 0 {
		t.Fatal("expected a missing_audit_trail violation")
	}
}

func TestStrictModePanicsOnViolation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected strict kernel to panic on violation")
		}
	}()
	k := audit.NewKernel(true)
	k.ValidateAndChain("cell-1", "MICRO", map[string]any{}, axiom.Wag, 60.0, 0.5, time.Now())
}

func TestCyclesVerifiedAndViolationCountAccumulate(t *testing.T) {
	k := audit.NewKernel(false)
	now := time.Now()
	k.ValidateAndChain("cell-1", "MICRO", map[string]any{"a": 1}, axiom.Wag, 60.0, 0.5, now)
	k.ValidateAndChain("cell-2", "MICRO", map[string]any{}, axiom.Wag, 60.0, 0.5, now.Add(time.Second))
	if k.CyclesVerified() != 2 {
		t.Fatalf("expected 2 cycles verified, got %d", k.CyclesVerified())
	}
	if k.ViolationCount() != 1 {
		t.Fatalf("expected 1 accumulated violation, got %d", k.ViolationCount())
	}
}
