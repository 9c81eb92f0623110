// Package audit implements CYNIC's cycle audit trail: a hash-chained
// record of every orchestrator cycle, plus the bounds validation that
// must pass before a cycle's Judgment is considered trustworthy.
//
// Adapted from the teacher's governance.ConstitutionalKernel
// (internal/governance/constitutional.go): the same canonical-hash +
// parent-hash chaining and the same style of bounds/NaN/monotonicity
// checks, applied to CycleAudit records instead of EscalationDecision
// records, and checked against CYNIC's five axioms rather than the
// teacher's seven constitutional principles.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/cynicerr"
)

// CycleAudit is one hash-chained record of a completed orchestrator
// cycle.
type CycleAudit struct {
	CellID           string        `json:"cell_id"`
	Level            string        `json:"level"`
	InputsHash       string        `json:"inputs_hash"`
	ParentHash       string        `json:"parent_hash"`
	DecisionHash     string        `json:"decision_hash"`
	Verdict          axiom.Verdict `json:"verdict"`
	QScore           float64       `json:"q_score"`
	ConstitutionalOK bool          `json:"constitutional_ok"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Violation mirrors the teacher's ConstitutionalViolation: a typed error
// describing exactly which bound was broken.
type Violation struct {
	Type      string
	Message   string
	Timestamp time.Time
	Context   map[string]any
}

func (v *Violation) Error() string {
	return fmt.Sprintf("audit: %s violation at %s: %s", v.Type, v.Timestamp.Format(time.RFC3339), v.Message)
}

// Kernel enforces bounds on CycleAudit records and maintains the hash
// chain across cycles. It is the equivalent of the teacher's
// ConstitutionalKernel, scoped down from a 7-axiom check to the bound
// checks that apply to a judgment cycle (time-monotonicity, score/
// confidence ranges, NaN/Inf, non-empty audit trail).
type Kernel struct {
	mu                sync.Mutex
	lastHash          string
	lastCycleAt       time.Time
	violationCount    int
	cyclesVerified    int
	strict            bool // panics on violation; test-only
}

// NewKernel constructs a Kernel. strict should only ever be true in
// tests — in production a violation is recorded and surfaced, never
// fatal.
func NewKernel(strict bool) *Kernel {
	return &Kernel{strict: strict}
}

// ValidateAndChain checks a cycle's inputs for constitutional bounds
// violations, computes its canonical hash chained to the previous
// cycle's hash, and returns the completed CycleAudit. now must be
// monotonically non-decreasing across calls on the same Kernel or a
// Violation is recorded.
func (k *Kernel) ValidateAndChain(cellID, level string, inputsCanonical map[string]any, verdict axiom.Verdict, qScore, confidence float64, now time.Time) (CycleAudit, []Violation) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var violations []Violation

	if !k.lastCycleAt.IsZero() && now.Before(k.lastCycleAt) {
		violations = append(violations, Violation{
			Type: "time_monotonicity", Message: "cycle timestamp precedes previous cycle", Timestamp: now,
			Context: map[string]any{"previous": k.lastCycleAt, "current": now},
		})
	}
	if qScore < 0 || qScore > 100 || math.IsNaN(qScore) || math.IsInf(qScore, 0) {
		violations = append(violations, Violation{
			Type: "score_bounds", Message: "q_score outside [0,100] or non-finite", Timestamp: now,
			Context: map[string]any{"q_score": qScore},
		})
	}
	if confidence < 0 || confidence > axiom.MaxConfidence || math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		violations = append(violations, Violation{
			Type: "confidence_bounds", Message: "confidence outside [0, phi_inv] or non-finite", Timestamp: now,
			Context: map[string]any{"confidence": confidence},
		})
	}
	if len(inputsCanonical) == 0 {
		violations = append(violations, Violation{
			Type: "missing_audit_trail", Message: "cycle has no recorded inputs", Timestamp: now,
		})
	}

	if k.strict && len(violations) > 0 {
		panic(violations[0].Error())
	}

	inputsHash := canonicalHash(inputsCanonical)
	decisionHash := chainedHash(k.lastHash, cellID, level, inputsHash, string(verdict), qScore)

	audit := CycleAudit{
		CellID:           cellID,
		Level:            level,
		InputsHash:       inputsHash,
		ParentHash:       k.lastHash,
		DecisionHash:     decisionHash,
		Verdict:          verdict,
		QScore:           qScore,
		ConstitutionalOK: len(violations) == 0,
		CreatedAt:        now,
	}

	k.lastHash = decisionHash
	k.lastCycleAt = now
	k.violationCount += len(violations)
	k.cyclesVerified++

	return audit, violations
}

// ViolationCount returns the lifetime count of bounds violations
// recorded by this Kernel.
func (k *Kernel) ViolationCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.violationCount
}

// CyclesVerified returns the lifetime count of cycles chained by this
// Kernel.
func (k *Kernel) CyclesVerified() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cyclesVerified
}

// ToError converts the first violation (if any) into a typed cynicerr,
// for callers that want a single error rather than a slice.
func ToError(where string, violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	first := violations[0]
	return cynicerr.New(cynicerr.KindInvalidInput, where, first.Error(), first.Timestamp).
		WithContext(first.Context)
}

// canonicalHash computes sha256 over the deterministic JSON encoding of
// m (map keys are sorted by encoding/json when marshaling a
// map[string]any, giving a stable digest across calls).
func canonicalHash(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", m))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// chainedHash computes the Merkle-style link: sha256(parentHash ||
// cellID || level || inputsHash || verdict || qScore).
func chainedHash(parentHash, cellID, level, inputsHash, verdict string, qScore float64) string {
	h := sha256.New()
	h.Write([]byte(parentHash))
	h.Write([]byte{0})
	h.Write([]byte(cellID))
	h.Write([]byte{0})
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(inputsHash))
	h.Write([]byte{0})
	h.Write([]byte(verdict))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%.6f", qScore)))
	return hex.EncodeToString(h.Sum(nil))
}
