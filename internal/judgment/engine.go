package judgment

import (
	"math"
	"time"

	"github.com/zeyxx/cynic/internal/axiom"
)

// Violation records a single φ-bound clamp event raised while scoring a
// dimension or axiom above φ⁻¹, mirroring the teacher's
// ConstitutionalViolation shape (see internal/audit).
type Violation struct {
	AxiomID     axiom.ID
	DimensionID axiom.DimensionID // empty if the violation is axiom-level
	RawValue    float64
	At          time.Time
}

// EngineInput is the consensus engine's aggregated per-dimension output,
// the input to the judgment engine (C8).
type EngineInput struct {
	CellID             string
	DimensionScores    map[axiom.DimensionID]float64 // aggregated, in [0,1] pre-clamp
	DogConfidences     map[string]float64            // dog_id -> confidence, pre-clamp
	DogVotes           map[string]float64            // dog_id -> this dog's overall vote (for Judgment.DogVotes)
	ConsensusReached   bool
	ConsensusVotes     int
	ResidualVariance   float64
	UnnameableDetected bool
	CostUSD            float64
	LLMCalls           int
	DurationMS         int64
	LevelUsed          Level
}

// Engine computes Q-scores and verdicts from aggregated dimension scores.
// It is pure and holds no mutable state beyond the catalog reference.
type Engine struct {
	catalog *axiom.Catalog
}

// NewEngine constructs an Engine bound to catalog.
func NewEngine(catalog *axiom.Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Evaluate runs the full C8 pipeline and returns a constructed Judgment
// plus any φ-bound violations recorded along the way.
func (e *Engine) Evaluate(in EngineInput, now time.Time) (*Judgment, []Violation, error) {
	var violations []Violation

	axiomScores := make(map[axiom.ID]float64, len(e.catalog.Axioms()))
	for _, a := range e.catalog.Axioms() {
		score, vs := e.axiomScore(a, in.DimensionScores, now)
		violations = append(violations, vs...)
		if score > axiom.PHI_INV {
			violations = append(violations, Violation{AxiomID: a.ID, RawValue: score, At: now})
			score = axiom.PHI_INV
		}
		axiomScores[a.ID] = score
	}

	qScoreRaw := geometricMean(axiomScores, e.catalog)
	qScore := clampRange(100*qScoreRaw, 0, 100)

	confidence := weightedMeanConfidence(in.DogConfidences)
	consensusFactor := axiom.PHI_INV
	if in.ConsensusReached {
		consensusFactor = 1.0
	}
	confidence = math.Min(confidence*consensusFactor, axiom.MaxConfidence)

	j, err := NewJudgment(JudgmentParams{
		CellID:             in.CellID,
		QScore:             qScore,
		Confidence:         confidence,
		AxiomScores:        axiomScores,
		DogVotes:           in.DogVotes,
		ConsensusReached:   in.ConsensusReached,
		ConsensusVotes:     in.ConsensusVotes,
		ResidualVariance:   in.ResidualVariance,
		UnnameableDetected: in.UnnameableDetected,
		CostUSD:            in.CostUSD,
		LLMCalls:           in.LLMCalls,
		DurationMS:         in.DurationMS,
		LevelUsed:          in.LevelUsed,
		CreatedAt:          now,
	})
	if err != nil {
		return nil, violations, err
	}
	return j, violations, nil
}

// axiomScore computes the weighted mean of a's dimension scores,
// clamping any individual dimension value above φ⁻¹ and recording a
// violation for it.
func (e *Engine) axiomScore(a axiom.Axiom, scores map[axiom.DimensionID]float64, now time.Time) (float64, []Violation) {
	var weighted, totalWeight float64
	var violations []Violation
	seen := 0
	for _, d := range a.Dimensions {
		v, ok := scores[d.ID]
		if !ok {
			continue
		}
		seen++
		if v > axiom.PHI_INV {
			violations = append(violations, Violation{AxiomID: a.ID, DimensionID: d.ID, RawValue: v, At: now})
			v = axiom.PHI_INV
		}
		if v < 0 {
			v = 0
		}
		weighted += v * d.Weight
		totalWeight += d.Weight
	}
	if seen == 0 {
		return math.NaN(), violations
	}
	return clampRange(weighted/totalWeight, 0, 1), violations
}

// geometricMean computes the k-th root of the product of axiomScores,
// where k is the number of axioms in the catalog. Missing or NaN axioms
// default to φ⁻² so a single absent axiom cannot collapse the product
// to zero.
func geometricMean(axiomScores map[axiom.ID]float64, catalog *axiom.Catalog) float64 {
	axioms := catalog.Axioms()
	k := len(axioms)
	if k == 0 {
		return 0
	}
	product := 1.0
	for _, a := range axioms {
		v, ok := axiomScores[a.ID]
		if !ok || math.IsNaN(v) {
			v = axiom.PHI_INV_2
		}
		product *= v
	}
	return math.Pow(product, 1.0/float64(k))
}

// weightedMeanConfidence returns the simple mean of per-dog confidences,
// each pre-clamped to [0, φ⁻¹]. An empty map yields 0.
func weightedMeanConfidence(confidences map[string]float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		if c > axiom.MaxConfidence {
			c = axiom.MaxConfidence
		}
		if c < 0 {
			c = 0
		}
		sum += c
	}
	return sum / float64(len(confidences))
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
