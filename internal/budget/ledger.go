package budget

import (
	"sync"
	"time"
)

// Ledger tracks USD spend against a per-cell budget and a global daily
// cap, per spec.md §4.11: "remaining = min(cell_remaining,
// global_remaining); if remaining < adapter.expected_cost, the call is
// skipped". It complements Bucket (which rate-limits cycle counts by
// level) rather than replacing it — a cycle can be token-affordable but
// dollar-exhausted, or vice versa.
type Ledger struct {
	mu sync.Mutex

	globalDailyCapUSD float64
	globalSpentUSD    float64
	dayStart          time.Time

	cellSpentUSD map[string]float64
}

// NewLedger constructs a Ledger with globalDailyCapUSD as the total
// daily USD ceiling across all cells, reset at the UTC day boundary.
func NewLedger(globalDailyCapUSD float64, now time.Time) *Ledger {
	return &Ledger{
		globalDailyCapUSD: globalDailyCapUSD,
		dayStart:          startOfUTCDay(now),
		cellSpentUSD:      make(map[string]float64),
	}
}

func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked resets the global counter if now has crossed into a new
// UTC day. Caller must hold l.mu.
func (l *Ledger) rolloverLocked(now time.Time) {
	day := startOfUTCDay(now)
	if day.After(l.dayStart) {
		l.dayStart = day
		l.globalSpentUSD = 0
	}
}

// Remaining returns the lesser of (cellBudgetUSD - spent so far on
// cellID) and (globalDailyCapUSD - spent so far today).
func (l *Ledger) Remaining(cellID string, cellBudgetUSD float64, now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)

	cellRemaining := cellBudgetUSD - l.cellSpentUSD[cellID]
	globalRemaining := l.globalDailyCapUSD - l.globalSpentUSD
	if cellRemaining < globalRemaining {
		return cellRemaining
	}
	return globalRemaining
}

// CanAfford reports whether expectedCost fits within Remaining.
func (l *Ledger) CanAfford(cellID string, cellBudgetUSD, expectedCost float64, now time.Time) bool {
	return l.Remaining(cellID, cellBudgetUSD, now) >= expectedCost
}

// Debit records actualCost as spent against cellID and the global
// ledger.
func (l *Ledger) Debit(cellID string, actualCost float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)
	l.cellSpentUSD[cellID] += actualCost
	l.globalSpentUSD += actualCost
}

// GlobalSpentToday returns the running total spent since the current
// UTC day started.
func (l *Ledger) GlobalSpentToday() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalSpentUSD
}

// Exhausted reports whether the global daily cap has been reached,
// which per spec.md §4.11 forces REFLEX level for subsequent cycles.
func (l *Ledger) Exhausted(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(now)
	return l.globalSpentUSD >= l.globalDailyCapUSD
}
