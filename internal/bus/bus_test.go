package bus_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/cynicerr"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	b := bus.New(4, zap.NewNop(), nil)
	defer b.Close()

	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(bus.JudgmentCreated, "counter", func(ev bus.Event) error {
		got.Add(1)
		wg.Done()
		return nil
	})

	if err := b.Emit(bus.Event{Type: bus.JudgmentCreated, Source: "test", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	wg.Wait()
	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", got.Load())
	}
}

func TestEmitBusFullOnSaturatedSubscriber(t *testing.T) {
	b := bus.New(1, zap.NewNop(), nil)
	defer b.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	b.Subscribe(bus.DogActivity, "slow", func(ev bus.Event) error {
		close(started)
		<-block
		return nil
	})

	// First event occupies the handler goroutine; second fills the queue;
	// third should observe a saturated queue.
	if err := b.Emit(bus.Event{Type: bus.DogActivity, Source: "a", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("first emit: %v", err)
	}
	<-started
	if err := b.Emit(bus.Event{Type: bus.DogActivity, Source: "b", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("second emit: %v", err)
	}
	err := b.Emit(bus.Event{Type: bus.DogActivity, Source: "c", CreatedAt: time.Now()})
	close(block)
	if cynicerr.KindOf(err) != cynicerr.KindBusFull {
		t.Fatalf("expected BusFull, got %v", err)
	}
}

func TestEmitLoopDetected(t *testing.T) {
	b := bus.New(4, zap.NewNop(), nil)
	defer b.Close()

	parents := []bus.Parent{
		{Type: bus.JudgmentCreated, Source: "orchestrator"},
		{Type: bus.LearningSignal, Source: "learner"},
		{Type: bus.JudgmentCreated, Source: "orchestrator"},
	}
	err := b.Emit(bus.Event{Type: bus.JudgmentCreated, Source: "orchestrator", Parents: parents, CreatedAt: time.Now()})
	if cynicerr.KindOf(err) != cynicerr.KindLoopDetected {
		t.Fatalf("expected LoopDetected, got %v", err)
	}
}

func TestEmitNoLoopWithDistinctParents(t *testing.T) {
	b := bus.New(4, zap.NewNop(), nil)
	defer b.Close()

	parents := []bus.Parent{
		{Type: bus.JudgmentCreated, Source: "orchestrator"},
		{Type: bus.LearningSignal, Source: "learner"},
	}
	err := b.Emit(bus.Event{Type: bus.JudgmentCreated, Source: "other", Parents: parents, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmitSyncWaitsForAllHandlers(t *testing.T) {
	b := bus.New(4, zap.NewNop(), nil)
	defer b.Close()

	var n atomic.Int32
	for i := 0; i < 3; i++ {
		b.Subscribe(bus.ActCompleted, "h", func(ev bus.Event) error {
			n.Add(1)
			return nil
		})
	}
	ok := b.EmitSync(bus.Event{Type: bus.ActCompleted, Source: "test", CreatedAt: time.Now()})
	if ok != 3 {
		t.Fatalf("expected 3 successful handlers, got %d", ok)
	}
	if n.Load() != 3 {
		t.Fatalf("expected 3 invocations, got %d", n.Load())
	}
}

func TestEmitUnknownTypeIsNoop(t *testing.T) {
	b := bus.New(4, zap.NewNop(), nil)
	defer b.Close()
	if err := b.Emit(bus.Event{Type: bus.ErrorEvent, Source: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("unexpected error for unsubscribed type: %v", err)
	}
}
