package dogs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/observability"
)

// Dog is one seat on the committee: a stable identity, the dimension
// subset it scores authoritatively, and its (possibly retry-wrapped)
// adapter. A dog holds no state beyond its adapter — everything
// persistent lives in the organism state (C3), per spec.md §4.6.
type Dog struct {
	Role
	adapter Adapter
}

// Committee is a registry of dogs. Target size is 11, minimum 2 for any
// cycle to reach quorum (spec.md §4.6/§4.7).
type Committee struct {
	dogs map[string]*Dog
	log  *zap.Logger
	metrics *observability.Metrics
}

// NewCommittee builds a Committee from roles, instantiating each role's
// adapter via the registry and wrapping it with retry policy. Returns an
// error if any role names an unregistered adapter.
func NewCommittee(roles []Role, retryPolicy RetryPolicy, log *zap.Logger, metrics *observability.Metrics) (*Committee, error) {
	dogs := make(map[string]*Dog, len(roles))
	for _, role := range roles {
		factory, ok := New(role.Adapter)
		if !ok {
			return nil, errUnknownAdapter(role.Adapter)
		}
		dogs[role.DogID] = &Dog{
			Role:    role,
			adapter: NewRetryingAdapter(factory, retryPolicy),
		}
	}
	return &Committee{dogs: dogs, log: log, metrics: metrics}, nil
}

// Size returns the number of registered dogs.
func (c *Committee) Size() int { return len(c.dogs) }

// DogIDs returns every registered dog_id, sorted.
func (c *Committee) DogIDs() []string {
	out := make([]string, 0, len(c.dogs))
	for id := range c.dogs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Score invokes the named dogs concurrently (one goroutine per dog,
// joined with a sync.WaitGroup — there are at most 11, so no pool is
// needed) and returns the votes that succeeded. A dog that errors or
// whose context expires is dropped; its absence does not itself fail the
// cycle, per spec.md §4.9 ("individual dog error → drop that vote,
// continue").
func (c *Committee) Score(ctx context.Context, cell *judgment.Cell, dogIDs []string) []Vote {
	votes := make([]Vote, 0, len(dogIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range dogIDs {
		dog, ok := c.dogs[id]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(d *Dog) {
			defer wg.Done()
			start := time.Now()
			vote, err := d.adapter.ScoreDimensions(ctx, cell, d.Dimensions)
			elapsed := time.Since(start)

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			if c.metrics != nil {
				c.metrics.DogCallsTotal.WithLabelValues(d.DogID, outcome).Inc()
				c.metrics.DogLatencySeconds.WithLabelValues(d.DogID).Observe(elapsed.Seconds())
			}
			if err != nil {
				if c.log != nil {
					c.log.Debug("dog adapter call failed, dropping vote",
						zap.String("dog_id", d.DogID), zap.Error(err))
				}
				return
			}
			vote.DogID = d.DogID
			mu.Lock()
			votes = append(votes, vote)
			mu.Unlock()
		}(dog)
	}

	wg.Wait()
	sort.Slice(votes, func(i, j int) bool { return votes[i].DogID < votes[j].DogID })
	return votes
}
