// Package cynicerr defines the closed taxonomy of error kinds CYNIC's
// subsystems raise, modeled on the teacher's ConstitutionalViolation
// typed-error-with-context shape (see internal/audit).
//
// Handlers and the orchestrator compare on Kind rather than matching
// error strings; every Kind below corresponds to a row in spec.md §7.
package cynicerr

import (
	"fmt"
	"time"
)

// Kind is the closed set of error kinds CYNIC can raise.
type Kind string

const (
	// KindInvalidInput marks a malformed Cell, unknown consciousness
	// level, or out-of-range score presented at a boundary.
	KindInvalidInput Kind = "invalid_input"

	// KindAdapterError marks a dog/LLM backend failure after retries.
	KindAdapterError Kind = "adapter_error"

	// KindInsufficientQuorum marks a cycle with fewer than two votes.
	KindInsufficientQuorum Kind = "insufficient_quorum"

	// KindBudgetExhausted marks a call skipped by the budget governor.
	// Not surfaced as a caller-visible failure — see spec.md §7.
	KindBudgetExhausted Kind = "budget_exhausted"

	// KindBusFull marks event-bus backpressure refusal.
	KindBusFull Kind = "bus_full"

	// KindLoopDetected marks an event genealogy violation.
	KindLoopDetected Kind = "loop_detected"

	// KindStateWriteError marks a persist/recover failure.
	KindStateWriteError Kind = "state_write_error"

	// KindConfidenceOutOfBounds marks Judgment construction with
	// confidence > φ⁻¹.
	KindConfidenceOutOfBounds Kind = "confidence_out_of_bounds"

	// KindScoreOutOfRange marks Judgment construction with q_score
	// outside [0, 100].
	KindScoreOutOfRange Kind = "score_out_of_range"

	// KindCancelled marks cooperative cycle cancellation.
	KindCancelled Kind = "cancelled"

	// KindInvalidLevel marks a consciousness-level string outside the
	// closed set {REFLEX, MICRO, MACRO, META}.
	KindInvalidLevel Kind = "invalid_level"
)

// Error is CYNIC's typed error. Where marks the subsystem that raised it;
// Context carries best-effort diagnostic fields for the state snapshot's
// "last error" field (spec.md §7).
type Error struct {
	Kind      Kind
	Where     string
	Message   string
	Context   map[string]any
	Timestamp time.Time
	cause     error
}

// New constructs an Error. now should be supplied by the caller so that
// tests remain deterministic; production callers pass time.Now().
func New(kind Kind, where, message string, now time.Time) *Error {
	return &Error{Kind: kind, Where: where, Message: message, Timestamp: now}
}

// Wrap attaches a Kind/Where to an underlying error, preserving it for
// errors.Unwrap.
func Wrap(kind Kind, where string, cause error, now time.Time) *Error {
	return &Error{Kind: kind, Where: where, Message: cause.Error(), Timestamp: now, cause: cause}
}

// WithContext returns a copy of e with ctx merged into Context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{
		Kind: e.Kind, Where: e.Where, Message: e.Message,
		Context: merged, Timestamp: e.Timestamp, cause: e.cause,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("cynic[%s@%s]: %s", e.Kind, e.Where, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write `errors.Is(err, cynicerr.New(cynicerr.KindBusFull, "", "", t))`
// — but the idiomatic comparison is cynicerr.KindOf(err) == KindBusFull.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Kind
	}
	return ""
}
