// Package learning implements CYNIC's learning loop (C10): the Q-table
// update, Thompson-sampled dog routing, and the residual-dimension
// promotion detector, all driven by outcome events per spec.md §4.10.
//
// The Q-table's additive under-mutex update is grounded on the teacher's
// budget.Bucket atomic-consume shape (internal/budget/token_bucket.go);
// the Beta-posterior routing state generalizes the teacher's
// escalation.Accumulator EWMA (a single float per PID) to a Beta(alpha,
// beta) pair per (signature, dog). The promotion rule is a small
// expr-lang/expr predicate compiled once at startup, grounded on
// smilemakc-mbflow's ConditionCache pattern
// (backend/pkg/engine/condition_cache.go) — this lets an operator tune
// the promotion rule via config without a binary rebuild, while the
// default compiled expression matches spec.md §4.10 exactly.
package learning

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/config"
	"github.com/zeyxx/cynic/internal/observability"
	"github.com/zeyxx/cynic/internal/state"
)

// OutcomeKind closes spec.md §9's documented reward-shaping deviation: a
// simple ternary mapping (success/failure/neutral) with a
// caller-provided quality multiplier, rather than the source's
// underspecified reward function.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeNeutral OutcomeKind = "neutral"
)

// RewardFor derives reward ∈ [-1,1] from an outcome kind and a
// caller-provided quality multiplier, itself clamped to [0,1].
func RewardFor(kind OutcomeKind, quality float64) float64 {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	switch kind {
	case OutcomeSuccess:
		return quality
	case OutcomeFailure:
		return -quality
	default:
		return 0
	}
}

// Observation is one Q-learning update step: the (state, action) pair
// just evaluated, its reward, and the next state's known action space
// (the dog IDs ROUTE would consider next), used to compute
// max_a' q(s',a').
type Observation struct {
	StateSignature     string
	ActionID           string
	Reward             float64
	NextStateSignature string
	NextActionIDs      []string
}

// betaPosterior is a Beta(alpha, beta) conjugate-prior pair for one
// (cell-signature, dog) routing arm.
type betaPosterior struct {
	Alpha float64
	Beta  float64
}

// Engine drives all three C10 sub-mechanisms against a shared Organism.
// It holds no routing/Q state of its own beyond the Beta posteriors
// (which, unlike the Q-table, are not part of spec.md §3's persisted
// data model and so are kept in-process here rather than in Organism).
type Engine struct {
	org     *state.Organism
	bus     *bus.Bus
	cfg     config.LearningConfig
	log     *zap.Logger
	metrics *observability.Metrics

	promotionRule *vm.Program

	mu       sync.Mutex
	beta     map[string]betaPosterior
	rng      *rand.Rand
	proposed map[string]bool // residual signatures already surfaced for promotion
}

// NewEngine compiles cfg.PromotionRule once and constructs an Engine.
// Returns an error if the rule fails to compile — an operator typo in
// config must not silently disable promotion, it must fail fast at
// startup.
func NewEngine(org *state.Organism, b *bus.Bus, cfg config.LearningConfig, log *zap.Logger, metrics *observability.Metrics) (*Engine, error) {
	env := map[string]any{"observation_count": 0, "votes_for_promotion": 0, "ratio": 0.0}
	program, err := expr.Compile(cfg.PromotionRule, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("learning.NewEngine: compile promotion_rule %q: %w", cfg.PromotionRule, err)
	}
	return &Engine{
		org:           org,
		bus:           b,
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		promotionRule: program,
		beta:          make(map[string]betaPosterior),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		proposed:      make(map[string]bool),
	}, nil
}

func qKey(stateSignature, actionID string) string {
	return stateSignature + "|" + actionID
}

// UpdateQ applies one Q-learning step:
// q(s,a) <- q(s,a) + alpha*(reward + gamma*max_a' q(s',a') - q(s,a)),
// clamps the result to [0,100] (spec.md §3's Q-table entry range), and
// writes it through Organism.RecordQValue — the sole path C10 is
// permitted to mutate the Q-table through (spec.md §4.10's "writes
// always go through C3").
func (e *Engine) UpdateQ(obs Observation) float64 {
	key := qKey(obs.StateSignature, obs.ActionID)
	current := e.org.QValue(key)

	maxNext := 0.0
	for i, a := range obs.NextActionIDs {
		v := e.org.QValue(qKey(obs.NextStateSignature, a))
		if i == 0 || v > maxNext {
			maxNext = v
		}
	}

	updated := current + e.cfg.Alpha*(obs.Reward+e.cfg.Gamma*maxNext-current)
	updated = clampRange(updated, 0, 100)
	e.org.RecordQValue(key, updated)
	if e.metrics != nil {
		e.metrics.QTableUpdatesTotal.Inc()
	}
	return updated
}

// QValue returns q(s,a), clamped to [0,100] on read per spec.md §3
// ("value ∈ [0,100] (raw stored), clamped on read").
func (e *Engine) QValue(stateSignature, actionID string) float64 {
	return clampRange(e.org.QValue(qKey(stateSignature, actionID)), 0, 100)
}

// Route picks topK dogs from candidates for cellSignature via Thompson
// sampling over each (signature, dog) Beta posterior, then with
// probability cfg.ExplorationRate swaps the weakest pick for the
// next-ranked candidate just outside the top K — the "falsification
// experiment" spec.md §4.10 calls for. candidates not yet seen for this
// signature get an informed Beta(2,2) prior (mildly optimistic, not
// uninformative Beta(1,1), since a dog assigned to score a dimension is
// presumed competent until shown otherwise).
func (e *Engine) Route(cellSignature string, candidates []string, topK int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	type scored struct {
		dogID string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, dogID := range candidates {
		p := e.priorLocked(betaKey(cellSignature, dogID))
		ranked = append(ranked, scored{dogID: dogID, score: sampleBeta(e.rng, p.Alpha, p.Beta)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK > len(ranked) {
		topK = len(ranked)
	}
	picked := make([]string, topK)
	for i := 0; i < topK; i++ {
		picked[i] = ranked[i].dogID
	}

	if topK > 0 && topK < len(ranked) && e.rng.Float64() < e.cfg.ExplorationRate {
		picked[topK-1] = ranked[topK].dogID
	}
	return picked
}

// OnRouteOutcome updates the (signature, dog) Beta posterior with a
// binary success signal, per spec.md §4.10 ("on outcome, update alpha or
// beta by the binary success signal").
func (e *Engine) OnRouteOutcome(cellSignature, dogID string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := betaKey(cellSignature, dogID)
	p := e.priorLocked(key)
	if success {
		p.Alpha++
	} else {
		p.Beta++
	}
	e.beta[key] = p
}

func (e *Engine) priorLocked(key string) betaPosterior {
	if p, ok := e.beta[key]; ok {
		return p
	}
	p := betaPosterior{Alpha: 2, Beta: 2}
	e.beta[key] = p
	return p
}

func betaKey(signature, dogID string) string { return signature + "|" + dogID }

// DetectResidual accumulates one observation for a residual signature
// (incrementing its observation count and, if votedForPromotion,
// its promotion-vote count), then evaluates the compiled promotion
// rule. It emits AXIOM_ACTIVATED at most once per signature, exactly
// when the rule first turns true (spec.md §8 scenario 4: "exactly one
// AXIOM_ACTIVATED event fired at the 50th observation"). Promotion is
// staged only — it never mutates the in-process axiom catalog, per
// spec.md §4.10 ("surfaced for human confirmation").
func (e *Engine) DetectResidual(signature string, votedForPromotion bool, now time.Time) (bool, error) {
	r := e.org.Residual(signature)
	r.ObservationCount++
	if votedForPromotion {
		r.VotesForPromotion++
	}

	e.mu.Lock()
	already := e.proposed[signature]
	e.mu.Unlock()
	if already {
		return false, nil
	}

	if r.ObservationCount < e.cfg.ResidualMinObservations {
		return false, nil
	}

	ratio := r.PromotionRatio()
	env := map[string]any{
		"observation_count":   r.ObservationCount,
		"votes_for_promotion": r.VotesForPromotion,
		"ratio":               ratio,
	}
	result, err := expr.Run(e.promotionRule, env)
	if err != nil {
		return false, fmt.Errorf("learning.DetectResidual: evaluate promotion_rule: %w", err)
	}
	ready, _ := result.(bool)
	if !ready {
		return false, nil
	}

	e.mu.Lock()
	e.proposed[signature] = true
	e.mu.Unlock()

	maturity := math.Min(1.0, float64(r.ObservationCount)/float64(maxInt(e.cfg.ResidualMinObservations, 1)))

	if e.metrics != nil {
		e.metrics.AxiomPromotionsTotal.Inc()
	}
	if e.bus != nil {
		_ = e.bus.Emit(bus.Event{
			ID:     uuid.NewString(),
			Type:   bus.AxiomActivated,
			Source: "learning.DetectResidual",
			Payload: map[string]any{
				"axiom_id":     signature,
				"signal_count": r.ObservationCount,
				"maturity":     maturity,
			},
			CreatedAt: now,
		})
	}
	return true, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sampleGamma draws from Gamma(shape, 1) via the Marsaglia-Tsang method,
// boosting shape<1 draws per the standard shape+1/u^(1/shape) identity.
// Go's standard library has no Gamma/Beta sampler, so Beta posteriors
// (not expressible as a closed-form stdlib call) are sampled through
// this pair of Gamma draws: Beta(a,b) = X/(X+Y), X~Gamma(a,1), Y~Gamma(b,1).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
