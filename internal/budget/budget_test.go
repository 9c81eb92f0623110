package budget_test

import (
	"testing"
	"time"

	"github.com/zeyxx/cynic/internal/budget"
	"github.com/zeyxx/cynic/internal/judgment"
)

func TestBucketConsume(t *testing.T) {
	b := budget.New(10, time.Hour)
	defer b.Close()
	if !b.Consume(4) {
		t.Fatal("expected consume to succeed within capacity")
	}
	if b.Remaining() != 6 {
		t.Fatalf("expected 6 remaining, got %d", b.Remaining())
	}
}

func TestBucketOverdraft(t *testing.T) {
	b := budget.New(5, time.Hour)
	defer b.Close()
	if b.Consume(10) {
		t.Fatal("expected consume to fail beyond capacity")
	}
	if b.Remaining() != 5 {
		t.Fatalf("expected untouched remaining of 5, got %d", b.Remaining())
	}
}

func TestConsumeForLevel(t *testing.T) {
	b := budget.New(5, time.Hour)
	defer b.Close()
	if !b.ConsumeForLevel(judgment.LevelMicro) {
		t.Fatal("expected MICRO cost (3) to be affordable")
	}
	if b.ConsumeForLevel(judgment.LevelMacro) {
		t.Fatal("expected MACRO cost (10) to exceed remaining 2 tokens")
	}
}

func TestDowngradeFromChain(t *testing.T) {
	cases := []struct {
		in   judgment.Level
		want judgment.Level
		ok   bool
	}{
		{judgment.LevelMeta, judgment.LevelMacro, true},
		{judgment.LevelMacro, judgment.LevelMicro, true},
		{judgment.LevelMicro, judgment.LevelReflex, true},
		{judgment.LevelReflex, judgment.LevelReflex, false},
	}
	for _, tc := range cases {
		got, ok := budget.DowngradeFrom(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("DowngradeFrom(%v) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLedgerRemainingIsMinOfCellAndGlobal(t *testing.T) {
	now := time.Now()
	l := budget.NewLedger(1.0, now)
	if got := l.Remaining("cell-1", 0.5, now); got != 0.5 {
		t.Fatalf("expected cell budget to bind, got %v", got)
	}
	l.Debit("cell-1", 0.4, now)
	if got := l.Remaining("cell-1", 0.5, now); got < 0.09 || got > 0.11 {
		t.Fatalf("expected ~0.1 remaining after debit, got %v", got)
	}
}

func TestLedgerGlobalCapBinds(t *testing.T) {
	now := time.Now()
	l := budget.NewLedger(0.2, now)
	l.Debit("cell-1", 0.15, now)
	if got := l.Remaining("cell-2", 1.0, now); got > 0.06 {
		t.Fatalf("expected global cap to dominate, got %v", got)
	}
}

func TestLedgerExhaustedForcesReflex(t *testing.T) {
	now := time.Now()
	l := budget.NewLedger(0.1, now)
	if l.Exhausted(now) {
		t.Fatal("expected not exhausted before any spend")
	}
	l.Debit("cell-1", 0.1, now)
	if !l.Exhausted(now) {
		t.Fatal("expected exhausted after spending the full daily cap")
	}
}

func TestLedgerRolloverResetsAtUTCDayBoundary(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	l := budget.NewLedger(0.1, day1)
	l.Debit("cell-1", 0.1, day1)
	if !l.Exhausted(day1) {
		t.Fatal("expected exhausted on day 1")
	}
	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	if l.Exhausted(day2) {
		t.Fatal("expected ledger to roll over into a fresh day")
	}
}
