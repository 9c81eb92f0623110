// Package orchestrator implements CYNIC's consciousness orchestrator
// (C9): the four-level (REFLEX/MICRO/MACRO/META) cycle scheduler that
// runs one Cell through PERCEIVE/ROUTE/SCORE/AGGREGATE/JUDGE/COMMIT to a
// Judgment.
//
// The scheduler shape is grounded on the teacher's cmd/octoreflex
// runWorker event loop combined with escalation.State's
// monotonic-with-decay machine (internal/escalation/state_machine.go):
// consciousness level plays the role of escalation state, Downgrade
// plays the role of Decay (there is no in-flight Escalate — a cycle
// only ever gets cheaper once started), and the deadline/hard-cap timer
// pairing mirrors kernel.Processor.Run's dual ticker-plus-deadline
// idiom. Each completed cycle is chained into a CycleAudit record via
// internal/audit, the adapted form of the teacher's
// governance.ConstitutionalKernel.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/audit"
	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/budget"
	"github.com/zeyxx/cynic/internal/bus"
	"github.com/zeyxx/cynic/internal/config"
	"github.com/zeyxx/cynic/internal/consensus"
	"github.com/zeyxx/cynic/internal/cynicerr"
	"github.com/zeyxx/cynic/internal/dogs"
	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/learning"
	"github.com/zeyxx/cynic/internal/observability"
	"github.com/zeyxx/cynic/internal/state"
)

// metaGeneralistDogID is the self-observation seat META makes sure is in
// its dog set. META routes the full committee, which already includes
// this seat, so it adds it only if routing left it out (spec.md §4.9:
// "MACRO + self-observation pass").
const metaGeneralistDogID = "meta-generalist"

// defaultDogExpectedCostUSD estimates one dog call's cost for the
// pre-flight budget check (spec.md §4.11: "if remaining <
// adapter.expected_cost, the call is skipped"). The bundled heuristic
// adapter is free; this constant exists so the budget-governor gating
// path is exercised even when no paid adapter is configured.
const defaultDogExpectedCostUSD = 0.002

// Orchestrator runs cells to judgments. It holds references to every
// other component (C3, C5-C8, C10, C11) but no scoring logic of its
// own — its only job is sequencing.
type Orchestrator struct {
	org        *state.Organism
	bus        *bus.Bus
	committee  *dogs.Committee
	consensus  *consensus.Engine
	judgment   *judgment.Engine
	learning   *learning.Engine
	bucket     *budget.Bucket
	ledger     *budget.Ledger
	auditKernel *audit.Kernel
	catalog    *axiom.Catalog
	log        *zap.Logger
	metrics    *observability.Metrics

	cfgMu sync.RWMutex
	cfg   config.OrchestratorConfig
}

// New constructs an Orchestrator wired to every collaborator component.
func New(
	org *state.Organism,
	b *bus.Bus,
	committee *dogs.Committee,
	consensusEngine *consensus.Engine,
	judgmentEngine *judgment.Engine,
	learningEngine *learning.Engine,
	bucket *budget.Bucket,
	ledger *budget.Ledger,
	auditKernel *audit.Kernel,
	catalog *axiom.Catalog,
	cfg config.OrchestratorConfig,
	log *zap.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		org: org, bus: b, committee: committee, consensus: consensusEngine,
		judgment: judgmentEngine, learning: learningEngine, bucket: bucket,
		ledger: ledger, auditKernel: auditKernel, catalog: catalog,
		cfg: cfg, log: log, metrics: metrics,
	}
}

// config returns a snapshot of the orchestrator's current config,
// safe to call concurrently with UpdateConfig.
func (o *Orchestrator) config() config.OrchestratorConfig {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// UpdateConfig swaps in a new OrchestratorConfig, applied to every cycle
// started after the call returns. It is the hot-reload path (spec.md
// §9's config package doc: "non-destructive changes only"); cfg's fields
// are all non-destructive — target latencies and the default level take
// effect on the next RunCycle with no drained state.
func (o *Orchestrator) UpdateConfig(cfg config.OrchestratorConfig) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.cfg = cfg
}

// targetLatency returns the configured target latency for level.
func (o *Orchestrator) targetLatency(level judgment.Level) time.Duration {
	cfg := o.config()
	switch level {
	case judgment.LevelReflex:
		return cfg.TargetLatency.Reflex
	case judgment.LevelMicro:
		return cfg.TargetLatency.Micro
	case judgment.LevelMacro:
		return cfg.TargetLatency.Macro
	case judgment.LevelMeta:
		return cfg.TargetLatency.Meta
	default:
		return cfg.TargetLatency.Micro
	}
}

// resolveLevel picks the level a cell runs at: its pinned level if
// valid, else the configured default, downgraded to REFLEX if the
// budget ledger is exhausted (spec.md §4.11: "EXHAUSTED forces REFLEX
// level for subsequent cycles").
func (o *Orchestrator) resolveLevel(cell *judgment.Cell, now time.Time) judgment.Level {
	defaultLevel := judgment.Level(o.config().DefaultLevel)
	level := judgment.Level(cell.Level)
	if cell.Level == "" || cell.Level == string(judgment.LevelAuto) {
		level = defaultLevel
	}
	if !judgment.ValidLevel(string(level)) {
		level = defaultLevel
	}
	if o.ledger.Exhausted(now) {
		return judgment.LevelReflex
	}
	return level
}

// RunCycle runs cell through the full PERCEIVE/ROUTE/SCORE/AGGREGATE/
// JUDGE/COMMIT pipeline and returns the resulting Judgment. A budget
// shortfall downgrades the level in-flight (MACRO->MICRO->REFLEX);
// exhaustion at REFLEX completes the cycle with whatever dogs
// responded. Cooperative cancellation at REFLEX returns a degraded
// Judgment instead of an error, per spec.md §4.9's timeout rule;
// cancellation at any other level surfaces KindCancelled.
func (o *Orchestrator) RunCycle(ctx context.Context, cell *judgment.Cell, now time.Time) (*judgment.Judgment, error) {
	level := o.resolveLevel(cell, now)

	deadline := o.targetLatency(level)
	cycleCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	hardCap := time.AfterFunc(2*deadline, cancel)
	defer hardCap.Stop()

	o.emitBestEffort(bus.Event{
		Type: bus.PerceiveRequested, Source: "orchestrator.RunCycle",
		Payload: map[string]any{"cell_id": cell.CellID, "reality": string(cell.Reality)}, CreatedAt: now,
	})

	level = o.ensureBudget(level, now)

	dogIDs := o.route(cell, level)

	votes, consumedUSD, llmCalls := o.score(cycleCtx, cell, dogIDs, now)

	select {
	case <-cycleCtx.Done():
		if level == judgment.LevelReflex {
			return o.degradedJudgment(cell, level, now)
		}
		rec := state.FailureRecord{Kind: string(cynicerr.KindCancelled), Where: "orchestrator.RunCycle", CellID: cell.CellID, OccurredAt: now}
		o.org.RecordFailure(rec)
		return nil, cynicerr.New(cynicerr.KindCancelled, "orchestrator.RunCycle", "cycle deadline exceeded", now).
			WithContext(map[string]any{"cell_id": cell.CellID, "level": string(level)})
	default:
	}

	if len(votes) < 2 {
		rec := state.FailureRecord{Kind: string(cynicerr.KindInsufficientQuorum), Where: "orchestrator.RunCycle", CellID: cell.CellID, OccurredAt: now}
		o.org.RecordFailure(rec)
		return nil, cynicerr.New(cynicerr.KindInsufficientQuorum, "orchestrator.RunCycle",
			"fewer than 2 dog votes available", now).
			WithContext(map[string]any{"cell_id": cell.CellID, "votes": len(votes)})
	}

	committeeSize := o.committee.Size()
	if level == judgment.LevelReflex {
		committeeSize = len(dogs.ReflexRoster())
	}
	res := o.consensus.Aggregate(votes, committeeSize, cell.CellID)

	j, err := o.judge(cell, level, res, consumedUSD, llmCalls, now)
	if err != nil {
		rec := state.FailureRecord{Kind: string(cynicerr.KindOf(err)), Where: "orchestrator.RunCycle", Message: err.Error(), CellID: cell.CellID, OccurredAt: now}
		o.org.RecordFailure(rec)
		return nil, err
	}

	if res.UnnameableDetected {
		votedForPromotion := res.ResidualVariance >= axiom.PHI_INV
		if _, detErr := o.learning.DetectResidual(res.ResidualSignature, votedForPromotion, now); detErr != nil && o.log != nil {
			o.log.Warn("residual promotion rule evaluation failed", zap.Error(detErr))
		}
	}

	if err := o.org.CommitJudgment(*j); err != nil {
		rec := state.FailureRecord{Kind: string(cynicerr.KindStateWriteError), Where: "orchestrator.RunCycle", Message: err.Error(), CellID: cell.CellID, OccurredAt: now}
		o.org.RecordFailure(rec)
		return nil, cynicerr.Wrap(cynicerr.KindStateWriteError, "orchestrator.RunCycle", err, now).
			WithContext(map[string]any{"cell_id": cell.CellID})
	}

	o.commitAudit(cell.CellID, level, res, j, now)
	o.emitJudgmentCreated(j, now)

	if o.metrics != nil {
		o.metrics.JudgmentsTotal.WithLabelValues(string(j.Verdict)).Inc()
		o.metrics.QScoreHistogram.Observe(j.QScore)
		o.metrics.ResidualVarianceHistogram.Observe(j.ResidualVariance)
		o.metrics.CyclesTotal.WithLabelValues(string(level)).Inc()
	}

	return j, nil
}

// ensureBudget consumes one token-bucket charge for level, downgrading
// (MACRO->MICRO->REFLEX) and emitting CONSCIOUSNESS_LEVEL_CHANGED until
// either a charge succeeds or REFLEX is reached (spec.md §4.9:
// "Budget exhaustion ... downgrades the level in-flight").
func (o *Orchestrator) ensureBudget(level judgment.Level, now time.Time) judgment.Level {
	for {
		if o.bucket.ConsumeForLevel(level) {
			return level
		}
		next, ok := budget.DowngradeFrom(level)
		if o.metrics != nil {
			o.metrics.LevelDowngradesTotal.Inc()
		}
		o.emitBestEffort(bus.Event{
			Type: bus.ConsciousnessLevelChanged, Source: "orchestrator.ensureBudget",
			Payload: map[string]any{"from": string(level), "to": string(next), "reason": "budget"}, CreatedAt: now,
		})
		if !ok {
			return next
		}
		level = next
	}
}

// route asks the learning loop for the dog subset per spec.md §4.9 step
// 2. REFLEX bypasses routing entirely (fixed fastest seats, heuristic
// only); META routes MACRO's full committee and makes sure the
// self-observation seat is part of it.
func (o *Orchestrator) route(cell *judgment.Cell, level judgment.Level) []string {
	all := o.committee.DogIDs()

	switch level {
	case judgment.LevelReflex:
		return intersect(dogs.ReflexRoster(), all)
	case judgment.LevelMicro:
		return o.learning.Route(cell.CellID, all, microSubsetSize)
	case judgment.LevelMacro:
		return o.learning.Route(cell.CellID, all, len(all))
	case judgment.LevelMeta:
		picked := o.learning.Route(cell.CellID, all, len(all))
		if contains(all, metaGeneralistDogID) && !contains(picked, metaGeneralistDogID) {
			picked = append(picked, metaGeneralistDogID)
		}
		return picked
	default:
		return o.learning.Route(cell.CellID, all, microSubsetSize)
	}
}

// microSubsetSize is MICRO's dog-subset size: spec.md §4.9's "small
// subset (~3 dogs)".
const microSubsetSize = 3

// score invokes the committee for dogIDs after filtering out any dog
// the budget ledger cannot afford (spec.md §4.11), then debits the
// ledger for every vote's self-reported actual cost. Returns the votes
// obtained, the total USD actually consumed this cycle, and the count
// of votes that reported a non-zero cost (a paid/LLM-backed adapter,
// as opposed to the free heuristic adapter — judgment.llm_calls tracks
// this distinction, not raw dog count).
func (o *Orchestrator) score(ctx context.Context, cell *judgment.Cell, dogIDs []string, now time.Time) ([]dogs.Vote, float64, int) {
	affordable := make([]string, 0, len(dogIDs))
	for _, id := range dogIDs {
		if o.ledger.CanAfford(cell.CellID, cell.BudgetUSD, defaultDogExpectedCostUSD, now) {
			affordable = append(affordable, id)
			continue
		}
		o.emitBestEffort(bus.Event{
			Type: bus.DogActivity, Source: "orchestrator.score",
			Payload: map[string]any{"dog_id": id, "status": "skipped", "reason": "budget"}, CreatedAt: now,
		})
	}

	votes := o.committee.Score(ctx, cell, affordable)

	var total float64
	var llmCalls int
	for _, v := range votes {
		o.org.RegisterDog(v.DogID, now)
		o.ledger.Debit(cell.CellID, v.CostUSD, now)
		total += v.CostUSD
		if v.CostUSD > 0 {
			llmCalls++
		}
		o.emitBestEffort(bus.Event{
			Type: bus.DogActivity, Source: "orchestrator.score",
			Payload: map[string]any{"dog_id": v.DogID, "status": "ok"}, CreatedAt: now,
		})
	}
	return votes, total, llmCalls
}

// judge runs C8 against res, then re-runs it with the correct
// consensus_votes count once the final verdict is known — mirroring
// spec.md §4.7's "consensus_votes is the count agreeing with the
// majority verdict, computed after §4.8". judgment.Engine.Evaluate is
// pure, so the second pass is cheap and returns identical q_score/
// confidence values.
func (o *Orchestrator) judge(cell *judgment.Cell, level judgment.Level, res consensus.Result, costUSD float64, llmCalls int, now time.Time) (*judgment.Judgment, error) {
	in := judgment.EngineInput{
		CellID: cell.CellID, DimensionScores: res.DimensionScores,
		DogConfidences: res.DogConfidences, DogVotes: res.DogOverallScores,
		ConsensusReached: res.ConsensusReached, ResidualVariance: res.ResidualVariance,
		UnnameableDetected: res.UnnameableDetected, CostUSD: costUSD, LLMCalls: llmCalls,
		LevelUsed: level,
	}
	first, violations, err := o.judgment.Evaluate(in, now)
	if err != nil {
		return nil, err
	}
	o.logViolations(violations)

	in.ConsensusVotes = consensus.MajorityAgreement(res, first.Verdict)
	final, violations, err := o.judgment.Evaluate(in, now)
	if err != nil {
		return nil, err
	}
	o.logViolations(violations)
	return final, nil
}

func (o *Orchestrator) logViolations(violations []judgment.Violation) {
	if o.log == nil {
		return
	}
	for _, v := range violations {
		o.log.Debug("phi-bound violation clamped",
			zap.String("axiom_id", string(v.AxiomID)), zap.String("dimension_id", string(v.DimensionID)),
			zap.Float64("raw_value", v.RawValue))
	}
}

// degradedJudgment is the fixed fallback returned when a REFLEX cycle's
// deadline fires: verdict=GROWL, confidence=φ⁻², residual_variance=1.0,
// per spec.md §4.9's literal timeout rule.
func (o *Orchestrator) degradedJudgment(cell *judgment.Cell, level judgment.Level, now time.Time) (*judgment.Judgment, error) {
	j, err := judgment.NewJudgment(judgment.JudgmentParams{
		CellID: cell.CellID, QScore: axiom.ThresholdGrowl, Confidence: axiom.PHI_INV_2,
		ResidualVariance: 1.0, LevelUsed: level, CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	if commitErr := o.org.CommitJudgment(*j); commitErr != nil {
		return nil, cynicerr.Wrap(cynicerr.KindStateWriteError, "orchestrator.degradedJudgment", commitErr, now)
	}
	o.emitJudgmentCreated(j, now)
	return j, nil
}

// commitAudit chains this cycle into the audit kernel. A constitutional
// violation is logged, never fatal — matching the teacher's
// non-fatal-in-production posture for ConstitutionalKernel.
func (o *Orchestrator) commitAudit(cellID string, level judgment.Level, res consensus.Result, j *judgment.Judgment, now time.Time) {
	inputs := map[string]any{
		"dimension_scores": res.DimensionScores,
		"dog_confidences":  res.DogConfidences,
	}
	_, violations := o.auditKernel.ValidateAndChain(cellID, string(level), inputs, j.Verdict, j.QScore, j.Confidence, now)
	if len(violations) > 0 && o.log != nil {
		o.log.Warn("cycle audit recorded bounds violations",
			zap.String("cell_id", cellID), zap.Int("violation_count", len(violations)))
	}
}

// emitJudgmentCreated emits JUDGMENT_CREATED, retrying once on BusFull
// per spec.md §5's "retry critical ones ... once before failing the
// cycle" backpressure policy. A second failure is logged, not fatal —
// the Judgment is already committed to state.
func (o *Orchestrator) emitJudgmentCreated(j *judgment.Judgment, now time.Time) {
	ev := bus.Event{
		Type: bus.JudgmentCreated, Source: "orchestrator.RunCycle",
		Payload: map[string]any{"judgment_id": j.JudgmentID, "cell_id": j.CellID, "verdict": string(j.Verdict)},
		CreatedAt: now,
	}
	if err := o.bus.Emit(ev); err != nil && cynicerr.KindOf(err) == cynicerr.KindBusFull {
		if retryErr := o.bus.Emit(ev); retryErr != nil && o.log != nil {
			o.log.Warn("JUDGMENT_CREATED dropped after retry", zap.String("judgment_id", j.JudgmentID))
		}
	}
}

// emitBestEffort emits a non-critical event (PERCEIVE_REQUESTED,
// DOG_ACTIVITY, CONSCIOUSNESS_LEVEL_CHANGED) without retry, per
// spec.md §5: "drop non-critical events" on backpressure.
func (o *Orchestrator) emitBestEffort(ev bus.Event) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Emit(ev)
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
