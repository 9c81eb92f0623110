// Package consensus implements CYNIC's consensus engine (C7): it
// aggregates a cycle's dog votes into per-dimension scores, measures
// dissent, and evaluates quorum.
//
// The quorum check is grounded on the teacher's gossip.Quorum
// (internal/gossip/quorum.go): "unique nodes reporting >= effective
// minimum" becomes "fraction of dogs voting >= φ⁻¹", evaluated purely
// in-process against the votes a single cycle collected rather than
// against a network of peers — CYNIC runs one organism per process, so
// there is no networked quorum to cross (spec.md's Non-goals exclude
// distributed/BFT consensus across instances).
package consensus

import (
	"math"
	"sort"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/dogs"
)

// Result is the consensus engine's output: the per-dimension aggregate
// scores, dissent measure, and quorum verdict for one cycle.
type Result struct {
	DimensionScores    map[axiom.DimensionID]float64
	DogConfidences     map[string]float64
	DogOverallScores   map[string]float64
	ResidualVariance   float64
	ConsensusReached   bool
	FractionVoting     float64
	UnnameableDetected bool
	ResidualSignature  string
}

// Engine aggregates dog votes into a Result. It is stateless and pure
// except for the residual accumulation, which is delegated to the
// caller via the returned Result.ResidualSignature (the organism's
// *judgment.Residual for that signature is what actually accumulates
// observation counts — see C10).
type Engine struct {
	catalog *axiom.Catalog
}

// NewEngine constructs an Engine bound to catalog.
func NewEngine(catalog *axiom.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Aggregate runs the C7 algorithm against votes, which were collected
// from a committee of committeeSize dogs (committeeSize may exceed
// len(votes) if some dogs were dropped or skipped for budget).
func (e *Engine) Aggregate(votes []dogs.Vote, committeeSize int, cellSignature string) Result {
	res := Result{
		DimensionScores:  make(map[axiom.DimensionID]float64),
		DogConfidences:   make(map[string]float64, len(votes)),
		DogOverallScores: make(map[string]float64, len(votes)),
	}
	if committeeSize > 0 {
		res.FractionVoting = float64(len(votes)) / float64(committeeSize)
	}

	for _, v := range votes {
		res.DogConfidences[v.DogID] = clampConfidence(v.Confidence)
		res.DogOverallScores[v.DogID] = meanOf(v.Scores)
	}

	dims := collectDimensions(votes)
	var weightedDissentSum, weightSum float64
	for _, dimID := range dims {
		weight, _ := e.catalog.Dimension(dimID)
		aggregated, dissent, totalWeight := aggregateDimension(votes, dimID, weight.Weight)
		res.DimensionScores[dimID] = aggregated
		weightedDissentSum += dissent * totalWeight
		weightSum += totalWeight
	}

	if weightSum > 0 {
		res.ResidualVariance = clamp01(weightedDissentSum / weightSum)
	}

	res.ConsensusReached = len(votes) >= 2 &&
		res.FractionVoting >= axiom.PHI_INV &&
		res.ResidualVariance <= axiom.PHI_INV

	if len(votes) >= 2 && res.ResidualVariance > axiom.PHI_INV && !dimensionDominates(res.DimensionScores) {
		res.UnnameableDetected = true
		res.ResidualSignature = cellSignature
	}

	return res
}

// MajorityAgreement counts the votes whose own overall score maps to the
// same verdict band as finalVerdict, via the same threshold table used
// for the cycle's Q-score (§4.1). Used by the orchestrator to populate
// Judgment.ConsensusVotes after the judgment engine has produced a
// verdict (spec.md §4.7: "consensus_votes is the count agreeing with the
// majority verdict, computed after §4.8").
func MajorityAgreement(res Result, finalVerdict axiom.Verdict) int {
	count := 0
	for _, score := range res.DogOverallScores {
		if axiom.VerdictFor(score*100) == finalVerdict {
			count++
		}
	}
	return count
}

func collectDimensions(votes []dogs.Vote) []axiom.DimensionID {
	seen := make(map[axiom.DimensionID]struct{})
	for _, v := range votes {
		for dimID := range v.Scores {
			seen[dimID] = struct{}{}
		}
	}
	out := make([]axiom.DimensionID, 0, len(seen))
	for dimID := range seen {
		out = append(out, dimID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// aggregateDimension computes the weight-mean of votes' scores for dimID
// (weight = dog confidence × catalogWeight) and the variance across the
// contributing scores, divided by 0.25 (the largest population variance
// scores in [0,1] can have) so dissent spans [0,1]. Ties (all weights
// zero) fall back to a plain average, per spec.md §4.7.
func aggregateDimension(votes []dogs.Vote, dimID axiom.DimensionID, catalogWeight float64) (aggregated, dissent, totalWeight float64) {
	var weightedSum float64
	var scores []float64
	for _, v := range votes {
		score, ok := v.Scores[dimID]
		if !ok {
			continue
		}
		scores = append(scores, score)
		w := clampConfidence(v.Confidence) * catalogWeight
		weightedSum += score * w
		totalWeight += w
	}
	if len(scores) == 0 {
		return 0, 0, 0
	}
	if totalWeight <= 0 {
		aggregated = mean(scores)
	} else {
		aggregated = weightedSum / totalWeight
		totalWeight = totalWeight / float64(len(scores)) // normalize for dissent weighting below
	}
	dissent = variance(scores) / 0.25
	return clamp01(aggregated), dissent, totalWeight
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanOf(scores map[axiom.DimensionID]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

// dimensionDominates reports whether any single dimension's score is far
// enough from the mean of the others to explain the dissent on its own
// (i.e. the variance isn't spread evenly — one known axis is driving it,
// not an unnamed one).
func dimensionDominates(scores map[axiom.DimensionID]float64) bool {
	if len(scores) < 2 {
		return true
	}
	vals := make([]float64, 0, len(scores))
	for _, v := range scores {
		vals = append(vals, v)
	}
	m := mean(vals)
	maxDev := 0.0
	for _, v := range vals {
		dev := math.Abs(v - m)
		if dev > maxDev {
			maxDev = dev
		}
	}
	return maxDev > axiom.PHI_INV*0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampConfidence(c float64) float64 {
	if c > axiom.MaxConfidence {
		return axiom.MaxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}
