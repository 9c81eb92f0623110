package state

import (
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeyxx/cynic/internal/cynicerr"
	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/observability"
)

// RingCapacity and FIFOCapacity are both the Fibonacci number F(11)=89,
// per spec.md §4.3.
const (
	RingCapacity = 89
	FIFOCapacity = 89
)

// DogRegistryEntry is MEMORY-layer bookkeeping about one registered dog.
type DogRegistryEntry struct {
	Name     string
	Active   bool
	LastSeen time.Time
}

// memoryLayer is CYNIC's volatile, in-process working state: the Q-table,
// dog registry, residual accumulator, and a capped ring of recent
// judgments. Nothing here survives a process restart; Persist does not
// write this layer out.
type memoryLayer struct {
	qTable        map[string]float64
	dogRegistry   map[string]DogRegistryEntry
	residuals     map[string]*judgment.Residual
	judgmentRing  []judgment.Judgment
	ringHead      int
	ringFull      bool
}

func newMemoryLayer() *memoryLayer {
	return &memoryLayer{
		qTable:      make(map[string]float64),
		dogRegistry: make(map[string]DogRegistryEntry),
		residuals:   make(map[string]*judgment.Residual),
	}
}

// pushJudgment inserts j into the ring buffer, evicting the oldest entry
// once RingCapacity is reached. Returns the evicted Judgment and true if
// an eviction occurred.
func (m *memoryLayer) pushJudgment(j judgment.Judgment) (judgment.Judgment, bool) {
	if m.judgmentRing == nil {
		m.judgmentRing = make([]judgment.Judgment, RingCapacity)
	}
	var evicted judgment.Judgment
	didEvict := false
	if m.ringFull {
		evicted = m.judgmentRing[m.ringHead]
		didEvict = true
	}
	m.judgmentRing[m.ringHead] = j
	m.ringHead = (m.ringHead + 1) % RingCapacity
	if m.ringHead == 0 {
		m.ringFull = true
	}
	return evicted, didEvict
}

// recentJudgments returns judgments oldest-first.
func (m *memoryLayer) recentJudgments() []judgment.Judgment {
	if m.judgmentRing == nil {
		return nil
	}
	if !m.ringFull {
		out := make([]judgment.Judgment, m.ringHead)
		copy(out, m.judgmentRing[:m.ringHead])
		return out
	}
	out := make([]judgment.Judgment, RingCapacity)
	copy(out, m.judgmentRing[m.ringHead:])
	copy(out[RingCapacity-m.ringHead:], m.judgmentRing[:m.ringHead])
	return out
}

// pendingAction is a PERSISTENT-layer FIFO entry.
type pendingAction struct {
	action    judgment.ProposedAction
	createdAt time.Time
}

// persistentLayer holds the consciousness level, the pending-action FIFO
// (capped at FIFOCapacity), and axiom activation statuses. It is durable:
// every mutation is mirrored to the BoltStore, and the whole layer is
// additionally written out as three named JSON files (consciousness.json,
// actions.json, checkpoint.json) on each Persist call, matching the
// teacher's belt-and-suspenders approach to the ledger (bolt transaction
// plus on-disk backup referenced in storage/bolt.go's doc comment).
type persistentLayer struct {
	level          judgment.Level
	pendingActions []pendingAction
	axiomStatus    map[string]bool
}

func newPersistentLayer() *persistentLayer {
	return &persistentLayer{
		level:       judgment.LevelMicro,
		axiomStatus: make(map[string]bool),
	}
}

func (p *persistentLayer) pushAction(a judgment.ProposedAction, now time.Time) (pendingAction, bool) {
	var evicted pendingAction
	didEvict := false
	if len(p.pendingActions) >= FIFOCapacity {
		evicted = p.pendingActions[0]
		p.pendingActions = p.pendingActions[1:]
		didEvict = true
	}
	p.pendingActions = append(p.pendingActions, pendingAction{action: a, createdAt: now})
	return evicted, didEvict
}

// dequeueAction pops and returns the oldest pending action, FIFO order.
func (p *persistentLayer) dequeueAction() (pendingAction, bool) {
	if len(p.pendingActions) == 0 {
		return pendingAction{}, false
	}
	head := p.pendingActions[0]
	p.pendingActions = p.pendingActions[1:]
	return head, true
}

// removeAction deletes the action with actionID from anywhere in the
// FIFO, preserving relative order of the remaining entries.
func (p *persistentLayer) removeAction(actionID string) bool {
	for i, pa := range p.pendingActions {
		if pa.action.ActionID == actionID {
			p.pendingActions = append(p.pendingActions[:i], p.pendingActions[i+1:]...)
			return true
		}
	}
	return false
}

// checkpointLayer holds small recovery metadata: when the organism last
// persisted cleanly, and the last judgment ID committed before that
// point, so recovery can detect a gap and reconcile against the bolt
// ledger.
type checkpointLayer struct {
	LastCheckpointAt time.Time `json:"last_checkpoint_at"`
	LastJudgmentID   string    `json:"last_judgment_id"`
	SchemaVersion    string    `json:"schema_version"`
}

// EvictionEvent describes a record dropped from a capped in-memory
// structure. Callers (typically the orchestrator, wired to the bus) use
// this to emit a best-effort diagnostic event; eviction itself is never
// an error.
type EvictionEvent struct {
	Layer string // "memory.judgment_ring" or "persistent.pending_actions"
	ID    string
}

// FailureRecord is the "last error" field spec.md §7 requires on every
// state snapshot: a structured, best-effort description of the most
// recently failed cycle, so silent failure is never the only evidence a
// cycle went wrong.
type FailureRecord struct {
	Kind      string    `json:"kind"`
	Where     string    `json:"where"`
	Message   string    `json:"message"`
	CellID    string    `json:"cell_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Snapshot is the frozen, read-only record returned by Organism.Snapshot:
// pure and idempotent between mutations, per spec.md §3's "snapshot()
// returns a frozen record" contract.
type Snapshot struct {
	Timestamp           time.Time
	ConsciousnessLevel  judgment.Level
	JudgmentCount       int
	DogCount            int
	QTableEntries       int
	ResidualsCount      int
	PendingActionsCount int
	LastError           *FailureRecord
}

// Organism is CYNIC's unified three-layer state: MEMORY (volatile),
// PERSISTENT (bbolt + JSON snapshot), CHECKPOINT (recovery metadata). All
// mutation goes through a single write lock, mirroring the teacher's
// single-writer BoltDB discipline (storage/bolt.go) extended to also
// cover the in-process layer so MEMORY and PERSISTENT never diverge
// mid-update.
type Organism struct {
	mu         sync.Mutex
	memory     *memoryLayer
	persistent *persistentLayer
	checkpoint checkpointLayer

	store       *BoltStore
	snapshotDir string
	log         *zap.Logger
	metrics     *observability.Metrics

	onEvict   func(EvictionEvent)
	lastError *FailureRecord
}

// NewOrganism constructs an Organism backed by store and snapshotDir (the
// directory holding the three persisted-state JSON files, per spec.md
// §6; pass "" to disable file snapshots). onEvict may be nil.
func NewOrganism(store *BoltStore, snapshotDir string, log *zap.Logger, metrics *observability.Metrics, onEvict func(EvictionEvent)) *Organism {
	return &Organism{
		memory:      newMemoryLayer(),
		persistent:  newPersistentLayer(),
		checkpoint:  checkpointLayer{SchemaVersion: SchemaVersion},
		store:       store,
		snapshotDir: snapshotDir,
		log:         log,
		metrics:     metrics,
		onEvict:     onEvict,
	}
}

// Level returns the current consciousness level.
func (o *Organism) Level() judgment.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persistent.level
}

// SetLevel updates the current consciousness level. Returns
// InvalidLevel if level is not one of the closed set.
func (o *Organism) SetLevel(level judgment.Level, now time.Time) error {
	if !judgment.ValidLevel(string(level)) {
		return cynicerr.New(cynicerr.KindInvalidLevel, "state.SetLevel",
			"level must be one of REFLEX, MICRO, MACRO, META", now).
			WithContext(map[string]any{"level": string(level)})
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persistent.level = level
	return nil
}

// RecordQValue sets q(s,a) in the in-memory Q-table.
func (o *Organism) RecordQValue(key string, value float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memory.qTable[key] = value
}

// QValue returns q(s,a), or 0 if unseen.
func (o *Organism) QValue(key string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.memory.qTable[key]
}

// RegisterDog upserts a dog's registry entry.
func (o *Organism) RegisterDog(name string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.memory.dogRegistry[name] = DogRegistryEntry{Name: name, Active: true, LastSeen: now}
}

// ActiveDogs returns the names of dogs currently marked active.
func (o *Organism) ActiveDogs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.memory.dogRegistry))
	for name, entry := range o.memory.dogRegistry {
		if entry.Active {
			out = append(out, name)
		}
	}
	return out
}

// Residual returns (creating if absent) the residual accumulator for
// signature.
func (o *Organism) Residual(signature string) *judgment.Residual {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.memory.residuals[signature]
	if !ok {
		r = &judgment.Residual{ResidualID: signature, Signature: signature}
		o.memory.residuals[signature] = r
	}
	return r
}

// CommitJudgment pushes j into the judgment ring, persists it to the
// bolt ledger, and advances the checkpoint. An eviction from the ring
// (if any) is reported via onEvict.
func (o *Organism) CommitJudgment(j judgment.Judgment) error {
	o.mu.Lock()
	evicted, didEvict := o.memory.pushJudgment(j)
	o.checkpoint.LastJudgmentID = j.JudgmentID
	o.checkpoint.LastCheckpointAt = j.CreatedAt
	o.mu.Unlock()

	if didEvict && o.onEvict != nil {
		o.onEvict(EvictionEvent{Layer: "memory.judgment_ring", ID: evicted.JudgmentID})
	}
	if o.metrics != nil {
		o.metrics.StateJudgmentRingDepth.Set(float64(len(o.RecentJudgments())))
	}

	if o.store == nil {
		return nil
	}
	return o.store.PutJudgment(JudgmentRecord{
		JudgmentID: j.JudgmentID,
		CellID:     j.CellID,
		Verdict:    string(j.Verdict),
		QScore:     j.QScore,
		Confidence: j.Confidence,
		Level:      string(j.LevelUsed),
		CreatedAt:  j.CreatedAt,
	})
}

// RecentJudgments returns the in-memory judgment ring, oldest first.
func (o *Organism) RecentJudgments() []judgment.Judgment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.memory.recentJudgments()
}

// EnqueueAction pushes a into the persistent pending-action FIFO,
// reporting eviction of the oldest entry (if the FIFO was full).
func (o *Organism) EnqueueAction(a judgment.ProposedAction, now time.Time) error {
	o.mu.Lock()
	evicted, didEvict := o.persistent.pushAction(a, now)
	o.mu.Unlock()

	if didEvict && o.onEvict != nil {
		o.onEvict(EvictionEvent{Layer: "persistent.pending_actions", ID: evicted.action.ActionID})
	}
	if o.store == nil {
		return nil
	}
	return o.store.PutAction(ActionRecord{
		ActionID:         a.ActionID,
		ActionType:       a.ActionType,
		Priority:         a.Priority,
		SourceJudgmentID: a.SourceJudgmentID,
		CreatedAt:        now,
	})
}

// DequeueAction pops and returns the oldest pending action (FIFO), or
// false if the queue is empty.
func (o *Organism) DequeueAction() (judgment.ProposedAction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pa, ok := o.persistent.dequeueAction()
	return pa.action, ok
}

// RemoveAction deletes actionID from the pending-action FIFO wherever it
// sits, preserving the relative order of the remaining entries.
// Returns whether an entry was found and removed.
func (o *Organism) RemoveAction(actionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persistent.removeAction(actionID)
}

// RecordFailure stores rec as the organism's last-error field, surfaced
// on every subsequent Snapshot until overwritten. Silent failure is
// forbidden by spec.md §7; every dropped cycle calls this.
func (o *Organism) RecordFailure(rec FailureRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastError = &rec
}

// AllResiduals returns every tracked residual signature's accumulator.
// Used by the learning loop's residual-dimension detector to scan for
// promotion-eligible signatures.
func (o *Organism) AllResiduals() []*judgment.Residual {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*judgment.Residual, 0, len(o.memory.residuals))
	for _, r := range o.memory.residuals {
		out = append(out, r)
	}
	return out
}

// Snapshot returns a frozen, point-in-time view of the organism's
// aggregate counters. Pure and idempotent: two Snapshot calls with no
// intervening mutation return equal values (spec.md §8).
func (o *Organism) Snapshot(now time.Time) Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	var lastErr *FailureRecord
	if o.lastError != nil {
		copyErr := *o.lastError
		lastErr = &copyErr
	}
	return Snapshot{
		Timestamp:           now,
		ConsciousnessLevel:  o.persistent.level,
		JudgmentCount:       len(o.memory.recentJudgments()),
		DogCount:            len(o.memory.dogRegistry),
		QTableEntries:       len(o.memory.qTable),
		ResidualsCount:      len(o.memory.residuals),
		PendingActionsCount: len(o.persistent.pendingActions),
		LastError:           lastErr,
	}
}

// ActivateAxiom marks a dimension active, persisting the status.
func (o *Organism) ActivateAxiom(dimensionID string, now time.Time) error {
	o.mu.Lock()
	o.persistent.axiomStatus[dimensionID] = true
	o.mu.Unlock()

	if o.store == nil {
		return nil
	}
	return o.store.PutAxiomStatus(AxiomStatus{DimensionID: dimensionID, Active: true, ActivatedAt: now})
}

// IsAxiomActive reports whether dimensionID has been promoted.
func (o *Organism) IsAxiomActive(dimensionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persistent.axiomStatus[dimensionID]
}

// consciousnessDoc is consciousness.json's shape (spec.md §6:
// "{level: string, timestamp: float}").
type consciousnessDoc struct {
	Level       string          `json:"level"`
	Timestamp   float64         `json:"timestamp"`
	AxiomStatus map[string]bool `json:"axiom_status"`
}

// actionDoc is one entry of actions.json's FIFO array (spec.md §6:
// "[{action_id, action_type, priority, source_judgment_id, payload}]").
type actionDoc struct {
	ActionID         string         `json:"action_id"`
	ActionType       string         `json:"action_type"`
	Priority         int            `json:"priority"`
	SourceJudgmentID string         `json:"source_judgment_id"`
	Payload          map[string]any `json:"payload"`
}

// checkpointDoc is checkpoint.json's shape (spec.md §6:
// "{version: int, last_sync: float}"), extended with the last committed
// judgment ID so recovery can detect a gap against the bolt ledger.
type checkpointDoc struct {
	Version        int     `json:"version"`
	LastSync       float64 `json:"last_sync"`
	LastJudgmentID string  `json:"last_judgment_id"`
}

func (o *Organism) consciousnessPath() string { return filepath.Join(o.snapshotDir, "consciousness.json") }
func (o *Organism) actionsPath() string       { return filepath.Join(o.snapshotDir, "actions.json") }
func (o *Organism) checkpointPath() string    { return filepath.Join(o.snapshotDir, "checkpoint.json") }

// Persist flushes the three persisted-state JSON files (if snapshotDir is
// configured), each via WriteJSON's write-temp/fsync/rename convention.
// BoltDB writes happen inline on every mutating call; Persist's job is
// the documented external-contract snapshot (spec.md §6) layered on top.
func (o *Organism) Persist() error {
	if o.snapshotDir == "" {
		return nil
	}
	now := time.Now()

	o.mu.Lock()
	cDoc := consciousnessDoc{
		Level:       string(o.persistent.level),
		Timestamp:   float64(now.Unix()),
		AxiomStatus: cloneBoolMap(o.persistent.axiomStatus),
	}
	aDocs := make([]actionDoc, 0, len(o.persistent.pendingActions))
	for _, pa := range o.persistent.pendingActions {
		aDocs = append(aDocs, actionDoc{
			ActionID:         pa.action.ActionID,
			ActionType:       pa.action.ActionType,
			Priority:         pa.action.Priority,
			SourceJudgmentID: pa.action.SourceJudgmentID,
			Payload:          pa.action.Payload,
		})
	}
	kDoc := checkpointDoc{
		Version:        1,
		LastSync:       float64(now.Unix()),
		LastJudgmentID: o.checkpoint.LastJudgmentID,
	}
	o.mu.Unlock()

	if err := WriteJSON(o.consciousnessPath(), cDoc, 0o600); err != nil {
		return cynicerr.Wrap(cynicerr.KindStateWriteError, "state.Persist", err, now)
	}
	if err := WriteJSON(o.actionsPath(), aDocs, 0o600); err != nil {
		return cynicerr.Wrap(cynicerr.KindStateWriteError, "state.Persist", err, now)
	}
	if err := WriteJSON(o.checkpointPath(), kDoc, 0o600); err != nil {
		return cynicerr.Wrap(cynicerr.KindStateWriteError, "state.Persist", err, now)
	}

	o.mu.Lock()
	o.checkpoint.LastCheckpointAt = now
	o.mu.Unlock()
	return nil
}

// Recover reloads the persisted-state JSON files (if present) and
// rehydrates axiom statuses and pending actions from the bolt store,
// which remains authoritative on any disagreement. Recover is idempotent
// and safe to call once at startup before serving any cycles.
func (o *Organism) Recover() error {
	if o.snapshotDir != "" {
		var cDoc consciousnessDoc
		if err := ReadJSON(o.consciousnessPath(), &cDoc); err == nil {
			o.mu.Lock()
			if judgment.ValidLevel(cDoc.Level) {
				o.persistent.level = judgment.Level(cDoc.Level)
			}
			o.mu.Unlock()
		}

		var kDoc checkpointDoc
		if err := ReadJSON(o.checkpointPath(), &kDoc); err == nil {
			o.mu.Lock()
			o.checkpoint.LastJudgmentID = kDoc.LastJudgmentID
			if kDoc.LastSync > 0 {
				o.checkpoint.LastCheckpointAt = time.Unix(int64(kDoc.LastSync), 0)
			}
			o.mu.Unlock()
		}
	}

	if o.store == nil {
		return nil
	}
	statuses, err := o.store.ReadAxiomStatuses()
	if err != nil {
		return cynicerr.Wrap(cynicerr.KindStateWriteError, "state.Recover", err, time.Now())
	}
	o.mu.Lock()
	for _, s := range statuses {
		o.persistent.axiomStatus[s.DimensionID] = s.Active
	}
	o.mu.Unlock()

	actions, err := o.store.ReadPendingActions()
	if err != nil {
		return cynicerr.Wrap(cynicerr.KindStateWriteError, "state.Recover", err, time.Now())
	}
	o.mu.Lock()
	o.persistent.pendingActions = nil
	for _, rec := range actions {
		o.persistent.pushAction(judgment.ProposedAction{
			ActionID:         rec.ActionID,
			ActionType:       rec.ActionType,
			Priority:         rec.Priority,
			SourceJudgmentID: rec.SourceJudgmentID,
		}, rec.CreatedAt)
	}
	o.mu.Unlock()
	return nil
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
