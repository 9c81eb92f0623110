// Package judgment defines CYNIC's core value objects (Cell, Judgment,
// ProposedAction, Residual) and the judgment engine (C8) that
// turns aggregated dimension scores into a Q-score, verdict, and bounded
// confidence.
//
// Value objects here are immutable once constructed, mirroring the
// teacher's governance.EscalationDecision: built once, validated at
// construction, never mutated afterward.
package judgment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/cynicerr"
)

// Reality is the domain a Cell observes.
type Reality string

const (
	RealityCode    Reality = "CODE"
	RealitySolana  Reality = "SOLANA"
	RealityMarket  Reality = "MARKET"
	RealitySocial  Reality = "SOCIAL"
	RealityHuman   Reality = "HUMAN"
	RealitySelf    Reality = "SELF"
	RealityCosmos  Reality = "COSMOS"
)

// TimeDim is a Cell's temporal orientation.
type TimeDim string

const (
	TimePast    TimeDim = "PAST"
	TimePresent TimeDim = "PRESENT"
	TimeFuture  TimeDim = "FUTURE"
)

// LOD is the level of detail requested for a Cell's evaluation.
type LOD int

const (
	LOD0 LOD = 0
	LOD1 LOD = 1
	LOD2 LOD = 2
	LOD3 LOD = 3
)

func (l LOD) String() string {
	if l < LOD0 || l > LOD3 {
		return fmt.Sprintf("LOD(%d)", int(l))
	}
	return fmt.Sprintf("LOD%d", int(l))
}

// Cell is an input observation. Cell is immutable after NewCell returns.
type Cell struct {
	CellID     string
	Reality    Reality
	Analysis   string
	TimeDim    TimeDim
	Content    string
	Context    string
	LOD        LOD
	BudgetUSD  float64
	// Level optionally pins the consciousness level for this cell,
	// instead of letting the orchestrator auto-pick (spec.md §4.9).
	Level string
}

// CellID computes the deterministic hash of a cell's identity fields:
// hash(content‖context‖reality‖analysis). Pure: same inputs always
// produce the same ID (spec.md §8 round-trip property).
func CellID(content, context string, reality Reality, analysis string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(context))
	h.Write([]byte{0})
	h.Write([]byte(reality))
	h.Write([]byte{0})
	h.Write([]byte(analysis))
	return hex.EncodeToString(h.Sum(nil))
}

// NewCell constructs a Cell with a derived CellID. budgetUSD must be
// non-negative.
func NewCell(reality Reality, analysis string, timeDim TimeDim, content, context string, lod LOD, budgetUSD float64, now time.Time) (*Cell, error) {
	if budgetUSD < 0 {
		return nil, cynicerr.New(cynicerr.KindInvalidInput, "judgment.NewCell",
			"budget_usd must be non-negative", now).WithContext(map[string]any{"budget_usd": budgetUSD})
	}
	return &Cell{
		CellID:    CellID(content, context, reality, analysis),
		Reality:   reality,
		Analysis:  analysis,
		TimeDim:   timeDim,
		Content:   content,
		Context:   context,
		LOD:       lod,
		BudgetUSD: budgetUSD,
	}, nil
}

// Level is a consciousness level the orchestrator runs a cycle at.
type Level string

const (
	LevelReflex Level = "REFLEX"
	LevelMicro  Level = "MICRO"
	LevelMacro  Level = "MACRO"
	LevelMeta   Level = "META"
	LevelAuto   Level = "AUTO"
)

// ValidLevel reports whether l is one of the closed consciousness-level
// set (AUTO is a request-time sentinel, not a stored level).
func ValidLevel(l string) bool {
	switch Level(l) {
	case LevelReflex, LevelMicro, LevelMacro, LevelMeta:
		return true
	default:
		return false
	}
}

// Judgment is the committee's decision on a cell. Immutable once built
// by NewJudgment.
type Judgment struct {
	JudgmentID        string
	CellID            string
	Verdict           axiom.Verdict
	QScore            float64
	Confidence        float64
	AxiomScores       map[axiom.ID]float64
	DogVotes          map[string]float64
	ConsensusReached  bool
	ConsensusVotes    int
	ResidualVariance  float64
	UnnameableDetected bool
	CostUSD           float64
	LLMCalls          int
	DurationMS        int64
	LevelUsed         Level
	CreatedAt         time.Time
}

// JudgmentParams carries the fields needed to construct a Judgment; kept
// as a struct (rather than a long positional constructor) because the
// orchestrator assembles it from several upstream stages.
type JudgmentParams struct {
	CellID             string
	QScore             float64
	Confidence         float64
	AxiomScores        map[axiom.ID]float64
	DogVotes           map[string]float64
	ConsensusReached   bool
	ConsensusVotes     int
	ResidualVariance   float64
	UnnameableDetected bool
	CostUSD            float64
	LLMCalls           int
	DurationMS         int64
	LevelUsed          Level
	CreatedAt          time.Time
}

// NewJudgment validates and constructs a Judgment. Confidence must not
// exceed φ⁻¹ (ConfidenceOutOfBounds); QScore must be in [0,100]
// (ScoreOutOfRange). Verdict is derived from QScore, never supplied.
func NewJudgment(p JudgmentParams) (*Judgment, error) {
	if p.Confidence > axiom.MaxConfidence || p.Confidence < 0 {
		return nil, cynicerr.New(cynicerr.KindConfidenceOutOfBounds, "judgment.NewJudgment",
			fmt.Sprintf("confidence %.4f exceeds bound [0, %.4f]", p.Confidence, axiom.MaxConfidence), p.CreatedAt).
			WithContext(map[string]any{"cell_id": p.CellID})
	}
	if p.QScore < 0 || p.QScore > 100 {
		return nil, cynicerr.New(cynicerr.KindScoreOutOfRange, "judgment.NewJudgment",
			fmt.Sprintf("q_score %.4f outside [0,100]", p.QScore), p.CreatedAt).
			WithContext(map[string]any{"cell_id": p.CellID})
	}

	return &Judgment{
		JudgmentID:         uuid.NewString(),
		CellID:             p.CellID,
		Verdict:            axiom.VerdictFor(round3(p.QScore)),
		QScore:             round3(p.QScore),
		Confidence:         round4(p.Confidence),
		AxiomScores:        p.AxiomScores,
		DogVotes:           p.DogVotes,
		ConsensusReached:   p.ConsensusReached,
		ConsensusVotes:     p.ConsensusVotes,
		ResidualVariance:   clamp01(p.ResidualVariance),
		UnnameableDetected: p.UnnameableDetected,
		CostUSD:            p.CostUSD,
		LLMCalls:           p.LLMCalls,
		DurationMS:         p.DurationMS,
		LevelUsed:          p.LevelUsed,
		CreatedAt:          p.CreatedAt,
	}, nil
}

// ProposedAction is a downstream instruction emitted from a judgment.
type ProposedAction struct {
	ActionID          string
	ActionType        string
	Priority          int
	SourceJudgmentID  string
	Payload           map[string]any
}

const (
	ActionInvestigate = "INVESTIGATE"
	ActionRefactor    = "REFACTOR"
	ActionAlert       = "ALERT"
	ActionMonitor     = "MONITOR"
)

// NewProposedAction constructs a ProposedAction with a fresh ID.
// priority must be in [1,4].
func NewProposedAction(actionType string, priority int, sourceJudgmentID string, payload map[string]any) (*ProposedAction, error) {
	if priority < 1 || priority > 4 {
		return nil, fmt.Errorf("judgment.NewProposedAction: priority %d outside [1,4]", priority)
	}
	return &ProposedAction{
		ActionID:         uuid.NewString(),
		ActionType:       actionType,
		Priority:         priority,
		SourceJudgmentID: sourceJudgmentID,
		Payload:          payload,
	}, nil
}

// Residual is variance not explained by current dimensions — a
// candidate for promotion to a first-class dimension.
type Residual struct {
	ResidualID         string
	Signature          string
	Variance           float64
	ObservationCount   int
	VotesForPromotion  int
}

// PromotionRatio returns VotesForPromotion / ObservationCount, or 0 if
// no observations have been recorded yet.
func (r *Residual) PromotionRatio() float64 {
	if r.ObservationCount == 0 {
		return 0
	}
	return float64(r.VotesForPromotion) / float64(r.ObservationCount)
}

// ReadyForPromotion reports whether r meets spec.md §4.10's promotion
// rule: observation_count >= minObservations && ratio >= φ⁻¹.
func (r *Residual) ReadyForPromotion(minObservations int) bool {
	return r.ObservationCount >= minObservations && r.PromotionRatio() >= axiom.PHI_INV
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

func round3(v float64) float64 { return roundN(v, 1000) }
func round4(v float64) float64 { return roundN(v, 10000) }

func roundN(v float64, scale float64) float64 {
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
