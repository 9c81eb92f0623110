package consensus_test

import (
	"math"
	"testing"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/consensus"
	"github.com/zeyxx/cynic/internal/dogs"
)

func TestAggregateBelowMinConsensusNotReached(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := consensus.NewEngine(catalog)

	votes := []dogs.Vote{
		{DogID: "d1", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.6}, Confidence: 0.4},
	}
	res := engine.Aggregate(votes, 3, "sig")
	if res.ConsensusReached {
		t.Fatal("expected consensus not reached with a single vote")
	}
	if res.UnnameableDetected {
		t.Fatal("unnameable must never be set with fewer than 2 votes")
	}
}

func TestAggregateAtMinReachesConsensus(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := consensus.NewEngine(catalog)

	votes := []dogs.Vote{
		{DogID: "d1", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.6}, Confidence: 0.5},
		{DogID: "d2", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.61}, Confidence: 0.5},
		{DogID: "d3", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.59}, Confidence: 0.5},
	}
	res := engine.Aggregate(votes, 3, "sig")
	if !res.ConsensusReached {
		t.Fatalf("expected consensus reached, residual_variance=%v fraction=%v", res.ResidualVariance, res.FractionVoting)
	}
	if math.Abs(res.DimensionScores["COHERENCE"]-0.6) > 0.02 {
		t.Fatalf("expected aggregated score near 0.6, got %v", res.DimensionScores["COHERENCE"])
	}
}

func TestAggregateHighDissentBreaksConsensus(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := consensus.NewEngine(catalog)

	votes := []dogs.Vote{
		{DogID: "d1", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.1, "HARMONY": 0.1}, Confidence: 0.5},
		{DogID: "d2", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0.9, "HARMONY": 0.9}, Confidence: 0.5},
	}
	res := engine.Aggregate(votes, 2, "sig")
	if res.ResidualVariance <= axiom.PHI_INV {
		t.Fatalf("expected high residual_variance from maximal dissent, got %v", res.ResidualVariance)
	}
	if res.ConsensusReached {
		t.Fatal("expected consensus not reached under high dissent")
	}
}

func TestAggregateResidualVarianceClamped(t *testing.T) {
	catalog := axiom.NewCatalog()
	engine := consensus.NewEngine(catalog)
	votes := []dogs.Vote{
		{DogID: "d1", Scores: map[axiom.DimensionID]float64{"COHERENCE": 0}, Confidence: 0.5},
		{DogID: "d2", Scores: map[axiom.DimensionID]float64{"COHERENCE": 1}, Confidence: 0.5},
	}
	res := engine.Aggregate(votes, 2, "sig")
	if res.ResidualVariance < 0 || res.ResidualVariance > 1 {
		t.Fatalf("residual_variance %v outside [0,1]", res.ResidualVariance)
	}
}

func TestMajorityAgreementCountsMatchingVerdict(t *testing.T) {
	res := consensus.Result{
		DogOverallScores: map[string]float64{
			"d1": 0.6,  // WAG
			"d2": 0.61, // WAG
			"d3": 0.2,  // BARK
		},
	}
	if got := consensus.MajorityAgreement(res, axiom.Wag); got != 2 {
		t.Fatalf("expected 2 dogs agreeing with WAG, got %d", got)
	}
}
