package judgment_test

import (
	"math"
	"testing"
	"time"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/judgment"
)

func uniformScores(catalog *axiom.Catalog, value float64) map[axiom.DimensionID]float64 {
	out := make(map[axiom.DimensionID]float64)
	for _, a := range catalog.Axioms() {
		for _, d := range a.Dimensions {
			out[d.ID] = value
		}
	}
	return out
}

func TestEvaluateHappyMacroPath(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := judgment.NewEngine(catalog)

	in := judgment.EngineInput{
		CellID:          "cell-1",
		DimensionScores: uniformScores(catalog, 0.60),
		DogConfidences:  map[string]float64{"d1": 0.5, "d2": 0.52, "d3": 0.48},
		DogVotes:        map[string]float64{"d1": 0.6, "d2": 0.62, "d3": 0.58},
		ConsensusReached: true,
		ConsensusVotes:   3,
		ResidualVariance: 0.05,
		LevelUsed:        judgment.LevelMacro,
	}
	j, violations, err := engine.Evaluate(in, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %d", len(violations))
	}
	if math.Abs(j.QScore-60.0) > 1.0 {
		t.Fatalf("expected q_score ~60.0, got %v", j.QScore)
	}
	if j.Verdict != axiom.Wag {
		t.Fatalf("expected WAG verdict, got %v", j.Verdict)
	}
	if j.Confidence > axiom.PHI_INV {
		t.Fatalf("confidence %v exceeds PHI_INV", j.Confidence)
	}
}

func TestEvaluateClampsOverconfidentDogsAndEmitsViolation(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := judgment.NewEngine(catalog)

	in := judgment.EngineInput{
		CellID:          "cell-2",
		DimensionScores: uniformScores(catalog, 1.0), // every dog reports 1.0
		DogConfidences:  map[string]float64{"d1": 1.0, "d2": 1.0},
		ConsensusReached: true,
		ConsensusVotes:   2,
		LevelUsed:        judgment.LevelMicro,
	}
	j, violations, err := engine.Evaluate(in, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if j.Confidence > axiom.PHI_INV {
		t.Fatalf("confidence %v exceeds PHI_INV bound", j.Confidence)
	}
	if len(violations) == 0 {
		t.Fatal("expected at least one FIDELITY/RESTRAINT violation from clamping")
	}
}

func TestEvaluateMissingAxiomDefaultsToPhiInv2(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := judgment.NewEngine(catalog)

	// Only provide scores for the PHI axiom's dimensions; all other axioms
	// are entirely missing and must default to PHI_INV_2 rather than
	// collapsing the geometric mean to zero.
	scores := make(map[axiom.DimensionID]float64)
	phiAxiom, _ := catalog.Axiom(axiom.PHIAxiom)
	for _, d := range phiAxiom.Dimensions {
		scores[d.ID] = 0.5
	}

	in := judgment.EngineInput{
		CellID:          "cell-3",
		DimensionScores: scores,
		DogConfidences:  map[string]float64{"d1": 0.3},
		LevelUsed:       judgment.LevelReflex,
	}
	j, _, err := engine.Evaluate(in, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if j.QScore <= 0 {
		t.Fatalf("expected nonzero q_score from PHI_INV_2 defaulting, got %v", j.QScore)
	}
}

func TestEvaluateConsensusNotReachedLowersConfidence(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := judgment.NewEngine(catalog)

	base := judgment.EngineInput{
		CellID:          "cell-4",
		DimensionScores: uniformScores(catalog, 0.5),
		DogConfidences:  map[string]float64{"d1": 0.6},
		LevelUsed:       judgment.LevelMicro,
	}
	reached := base
	reached.ConsensusReached = true
	jReached, _, err := engine.Evaluate(reached, time.Now())
	if err != nil {
		t.Fatalf("Evaluate reached: %v", err)
	}

	notReached := base
	notReached.ConsensusReached = false
	jNotReached, _, err := engine.Evaluate(notReached, time.Now())
	if err != nil {
		t.Fatalf("Evaluate not reached: %v", err)
	}

	if jNotReached.Confidence >= jReached.Confidence {
		t.Fatalf("expected lower confidence without consensus: reached=%v notReached=%v",
			jReached.Confidence, jNotReached.Confidence)
	}
}

func TestNewJudgmentRejectsOutOfBoundConfidence(t *testing.T) {
	_, err := judgment.NewJudgment(judgment.JudgmentParams{
		CellID: "c", QScore: 50, Confidence: 0.9, LevelUsed: judgment.LevelMicro, CreatedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("expected ConfidenceOutOfBounds error")
	}
}

func TestNewJudgmentRejectsOutOfRangeScore(t *testing.T) {
	_, err := judgment.NewJudgment(judgment.JudgmentParams{
		CellID: "c", QScore: 150, Confidence: 0.3, LevelUsed: judgment.LevelMicro, CreatedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("expected ScoreOutOfRange error")
	}
}

func TestCellIDDeterministic(t *testing.T) {
	id1 := judgment.CellID("content", "ctx", judgment.RealityCode, "QUALITY")
	id2 := judgment.CellID("content", "ctx", judgment.RealityCode, "QUALITY")
	if id1 != id2 {
		t.Fatal("expected CellID to be deterministic for identical inputs")
	}
	id3 := judgment.CellID("different", "ctx", judgment.RealityCode, "QUALITY")
	if id1 == id3 {
		t.Fatal("expected different content to produce a different CellID")
	}
}
