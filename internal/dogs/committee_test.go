package dogs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/dogs"
	"github.com/zeyxx/cynic/internal/judgment"
)

type fakeAdapter struct {
	name       string
	score      float64
	confidence float64
	fail       int // number of times to fail before succeeding
	calls      int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ScoreDimensions(ctx context.Context, cell *judgment.Cell, dims []axiom.DimensionID) (dogs.Vote, error) {
	f.calls++
	if f.calls <= f.fail {
		return dogs.Vote{}, errors.New("transient failure")
	}
	scores := make(map[axiom.DimensionID]float64, len(dims))
	for _, d := range dims {
		scores[d] = f.score
	}
	return dogs.Vote{Scores: scores, Confidence: f.confidence, CostUSD: 0.001, DurationMS: 1}, nil
}

func TestRegisterAndNew(t *testing.T) {
	dogs.Register("test-fake", func() dogs.Adapter { return &fakeAdapter{name: "test-fake", score: 0.5, confidence: 0.4} })
	adapter, ok := dogs.New("test-fake")
	if !ok {
		t.Fatal("expected registered factory to resolve")
	}
	if adapter.Name() != "test-fake" {
		t.Fatalf("expected name test-fake, got %s", adapter.Name())
	}
}

func TestNewUnknownReturnsFalse(t *testing.T) {
	if _, ok := dogs.New("does-not-exist"); ok {
		t.Fatal("expected unknown adapter name to return false")
	}
}

func TestRetryingAdapterRecoversFromTransientFailure(t *testing.T) {
	fa := &fakeAdapter{name: "flaky", score: 0.6, confidence: 0.3, fail: 2}
	ra := dogs.NewRetryingAdapter(fa, dogs.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2})
	cell := &judgment.Cell{CellID: "c1"}
	vote, err := ra.ScoreDimensions(context.Background(), cell, []axiom.DimensionID{"COHERENCE"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if vote.Scores["COHERENCE"] != 0.6 {
		t.Fatalf("unexpected score: %v", vote.Scores)
	}
}

func TestRetryingAdapterGivesUpAfterMaxAttempts(t *testing.T) {
	fa := &fakeAdapter{name: "alwaysfails", fail: 100}
	ra := dogs.NewRetryingAdapter(fa, dogs.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2})
	_, err := ra.ScoreDimensions(context.Background(), &judgment.Cell{}, []axiom.DimensionID{"COHERENCE"})
	if err == nil {
		t.Fatal("expected AdapterError after exhausting retries")
	}
}

func TestRetryingAdapterClampsConfidence(t *testing.T) {
	fa := &fakeAdapter{name: "overconfident", score: 0.5, confidence: 1.0}
	ra := dogs.NewRetryingAdapter(fa, dogs.DefaultRetryPolicy())
	vote, err := ra.ScoreDimensions(context.Background(), &judgment.Cell{}, []axiom.DimensionID{"COHERENCE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vote.Confidence > axiom.MaxConfidence {
		t.Fatalf("expected confidence clamped to MaxConfidence, got %v", vote.Confidence)
	}
}

func TestCommitteeScoreDropsFailedDogAndKeepsOthers(t *testing.T) {
	dogs.Register("committee-good", func() dogs.Adapter { return &fakeAdapter{name: "committee-good", score: 0.7, confidence: 0.5} })
	dogs.Register("committee-bad", func() dogs.Adapter { return &fakeAdapter{name: "committee-bad", fail: 100} })

	roles := []dogs.Role{
		{DogID: "good", Dimensions: []axiom.DimensionID{"COHERENCE"}, Adapter: "committee-good"},
		{DogID: "bad", Dimensions: []axiom.DimensionID{"COHERENCE"}, Adapter: "committee-bad"},
	}
	c, err := dogs.NewCommittee(roles, dogs.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewCommittee: %v", err)
	}
	votes := c.Score(context.Background(), &judgment.Cell{CellID: "c"}, []string{"good", "bad"})
	if len(votes) != 1 {
		t.Fatalf("expected 1 surviving vote, got %d", len(votes))
	}
	if votes[0].DogID != "good" {
		t.Fatalf("expected surviving vote from 'good', got %s", votes[0].DogID)
	}
}

func TestNewCommitteeRejectsUnknownAdapter(t *testing.T) {
	_, err := dogs.NewCommittee([]dogs.Role{{DogID: "x", Adapter: "never-registered"}}, dogs.DefaultRetryPolicy(), zap.NewNop(), nil)
	if err == nil {
		t.Fatal("expected error for unregistered adapter name")
	}
}
