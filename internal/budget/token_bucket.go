// Package budget implements CYNIC's cost/budget governor (C11): a token
// bucket bounding call-rate plus a parallel USD ledger bounding spend.
//
// The token bucket mechanics (capacity, full-refill-on-interval,
// atomic Consume under mutex, background refill goroutine) are kept
// verbatim from the teacher's budget.Bucket (internal/budget/token_bucket.go);
// only the cost model changes: costs are now keyed by consciousness
// Level instead of escalation.State, reflecting that CYNIC's "expensive
// action" is running a deeper cycle, not escalating containment.
//
// Invariants:
//   - tokens ∈ [0, capacity] at all times.
//   - Consume() is atomic under mutex.
//   - Refill goroutine runs for the lifetime of the Bucket.
package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeyxx/cynic/internal/judgment"
)

// CostModel defines the token cost of running one cycle at a given
// consciousness level. Costs must be positive integers.
var CostModel = map[judgment.Level]int{
	judgment.LevelReflex: 1,
	judgment.LevelMicro:  3,
	judgment.LevelMacro:  10,
	judgment.LevelMeta:   25,
}

// Bucket is a thread-safe token bucket for rate-limiting orchestrator
// cycles by consciousness level.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts the refill
// goroutine. capacity must be > 0. refillPeriod must be > 0. Call
// Close() to stop the refill goroutine.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("budget.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("budget.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to consume cost tokens from the bucket. Returns true
// if the tokens were available and consumed, false if insufficient
// tokens remain (the caller must downgrade or skip).
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeForLevel consumes the standard cost for running one cycle at
// level. A level with no defined cost is not charged and returns true.
func (b *Bucket) ConsumeForLevel(level judgment.Level) bool {
	cost, ok := CostModel[level]
	if !ok {
		return true
	}
	return b.Consume(cost)
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int { return b.capacity }

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 { return b.refillCount.Load() }

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() { close(b.stop) }

// DowngradeFrom returns the next-cheaper level below level, per
// spec.md §4.9's MACRO→MICRO→REFLEX downgrade chain. Returns level
// itself (and false) if already at REFLEX.
func DowngradeFrom(level judgment.Level) (judgment.Level, bool) {
	switch level {
	case judgment.LevelMeta:
		return judgment.LevelMacro, true
	case judgment.LevelMacro:
		return judgment.LevelMicro, true
	case judgment.LevelMicro:
		return judgment.LevelReflex, true
	default:
		return judgment.LevelReflex, false
	}
}
