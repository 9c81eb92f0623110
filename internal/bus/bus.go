// Package bus implements CYNIC's typed event bus.
//
// The shape is grounded on the teacher's kernel.Processor
// (internal/kernel/events.go): a bounded per-subscriber channel with
// drop-and-count backpressure, fed by a dispatch goroutine, shut down by
// context cancellation. Where the teacher had one ring-buffer source
// feeding worker goroutines, Bus generalizes to a typed
// multi-producer/multi-subscriber fan-out with closed-catalog event
// types and loop prevention via parent-genealogy walking.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/cynicerr"
	"github.com/zeyxx/cynic/internal/observability"
)

// Type is a closed-catalog event type.
type Type string

const (
	PerceiveRequested        Type = "PERCEIVE_REQUESTED"
	JudgmentCreated          Type = "JUDGMENT_CREATED"
	DogActivity              Type = "DOG_ACTIVITY"
	AxiomActivated           Type = "AXIOM_ACTIVATED"
	ConsciousnessLevelChanged Type = "CONSCIOUSNESS_LEVEL_CHANGED"
	LearningSignal           Type = "LEARNING_SIGNAL"
	ActCompleted             Type = "ACT_COMPLETED"
	ErrorEvent               Type = "ERROR"
)

// DefaultQueueCapacity is the per-subscriber channel capacity, chosen as
// Fibonacci F(13)=233 per spec.md §4.2.
const DefaultQueueCapacity = 233

// MaxGenealogyDepth bounds how far LoopDetected walks Event.Parents.
const MaxGenealogyDepth = 50

// Event is one bus message. Parents records the genealogy used for loop
// prevention: the IDs of events whose handling produced this one.
type Event struct {
	ID        string
	Type      Type
	Source    string
	Payload   any
	Parents   []Parent
	CreatedAt time.Time
}

// Parent identifies one ancestor event by the (Type, Source) pair loop
// detection compares against.
type Parent struct {
	Type   Type
	Source string
}

// Handler processes one event. A non-nil error is logged but does not
// stop dispatch to other handlers.
type Handler func(Event) error

type subscriber struct {
	name    string
	handler Handler
	queue   chan Event
}

// Bus is a bounded, typed pub/sub dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]*subscriber
	queueCap    int
	log         *zap.Logger
	metrics     *observability.Metrics

	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a Bus with the given per-subscriber queue capacity (use
// DefaultQueueCapacity if unsure).
func New(queueCap int, log *zap.Logger, metrics *observability.Metrics) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Bus{
		subscribers: make(map[Type][]*subscriber),
		queueCap:    queueCap,
		log:         log,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
}

// Subscribe registers handler under name for events of type t and starts
// its dispatch goroutine. Subscribe is not safe to call concurrently with
// Close.
func (b *Bus) Subscribe(t Type, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{name: name, handler: handler, queue: make(chan Event, b.queueCap)}
	b.subscribers[t] = append(b.subscribers[t], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev, ok := <-sub.queue:
				if !ok {
					return
				}
				if err := sub.handler(ev); err != nil {
					b.log.Warn("bus handler error",
						zap.String("subscriber", sub.name),
						zap.String("event_type", string(ev.Type)),
						zap.Error(err))
				}
			case <-b.done:
				return
			}
		}
	}()
}

// Emit dispatches ev to every subscriber of ev.Type, asynchronously.
// Returns BusFull if any subscriber's queue is saturated (the event is
// still delivered to subscribers with room) and LoopDetected if ev's
// genealogy contains a repeated (Type, Source) pair within
// MaxGenealogyDepth ancestors.
func (b *Bus) Emit(ev Event) error {
	if loopDetected(ev.Parents) {
		return cynicerr.New(cynicerr.KindLoopDetected, "bus.Emit",
			"repeated (type, source) pair in event genealogy", ev.CreatedAt).
			WithContext(map[string]any{"event_type": string(ev.Type), "source": ev.Source})
	}

	b.mu.RLock()
	subs := b.subscribers[ev.Type]
	b.mu.RUnlock()

	var full bool
	for _, sub := range subs {
		select {
		case sub.queue <- ev:
		default:
			full = true
			if b.metrics != nil {
				b.metrics.BusEventsDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
			}
			b.log.Debug("bus subscriber queue full, dropping event",
				zap.String("subscriber", sub.name), zap.String("event_type", string(ev.Type)))
		}
	}
	if full {
		return cynicerr.New(cynicerr.KindBusFull, "bus.Emit",
			"one or more subscriber queues saturated", ev.CreatedAt).
			WithContext(map[string]any{"event_type": string(ev.Type)})
	}
	return nil
}

// EmitSync dispatches ev synchronously to every subscriber of ev.Type,
// running each handler in its own goroutine and waiting for all to
// finish. It returns the count of handlers that returned nil, bypassing
// the per-subscriber queues entirely (no backpressure, no loop check —
// callers use this for the rare case where a caller must observe
// completion, e.g. tests and ACT_COMPLETED acknowledgements).
func (b *Bus) EmitSync(ev Event) int {
	b.mu.RLock()
	subs := b.subscribers[ev.Type]
	b.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			if err := s.handler(ev); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(sub)
	}
	wg.Wait()
	return ok
}

// Close stops all subscriber dispatch goroutines and waits for them to
// return.
func (b *Bus) Close() {
	close(b.done)
	b.wg.Wait()
}

// loopDetected walks parents looking for a repeated (Type, Source) pair
// within the first MaxGenealogyDepth ancestors.
func loopDetected(parents []Parent) bool {
	seen := make(map[Parent]struct{}, len(parents))
	limit := len(parents)
	if limit > MaxGenealogyDepth {
		limit = MaxGenealogyDepth
	}
	for i := 0; i < limit; i++ {
		p := parents[i]
		if _, ok := seen[p]; ok {
			return true
		}
		seen[p] = struct{}{}
	}
	return false
}
