// Package state implements CYNIC's three-layer Organism State: an
// in-process MEMORY layer, a durable PERSISTENT layer, and a small
// CHECKPOINT layer used for crash recovery.
//
// The PERSISTENT layer's schema is grounded directly on the teacher's
// storage.DB (internal/storage/bolt.go): the same bucket-per-concern
// BoltDB layout, schema-version check on Open, ACID Update/View
// transactions, and retention pruning (PruneCompletedActions, run once
// by the caller; there is no background goroutine) — adapted from
// baselines/ledger/meta to judgments/actions/axioms/meta.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/cynic/cynic.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultPendingActionRetentionDays bounds how long a completed pending
	// action record is kept before pruning.
	DefaultPendingActionRetentionDays = 30

	bucketJudgments = "judgments"
	bucketActions   = "actions"
	bucketAxioms    = "axioms"
	bucketMeta      = "meta"
)

// JudgmentRecord is the persisted form of a committed Judgment.
type JudgmentRecord struct {
	JudgmentID string    `json:"judgment_id"`
	CellID     string    `json:"cell_id"`
	Verdict    string    `json:"verdict"`
	QScore     float64   `json:"q_score"`
	Confidence float64   `json:"confidence"`
	Level      string    `json:"level"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActionRecord is a persisted ProposedAction awaiting or past dispatch.
type ActionRecord struct {
	ActionID         string    `json:"action_id"`
	ActionType       string    `json:"action_type"`
	Priority         int       `json:"priority"`
	SourceJudgmentID string    `json:"source_judgment_id"`
	CreatedAt        time.Time `json:"created_at"`
	Completed        bool      `json:"completed"`
}

// AxiomStatus is the persisted activation state of one axiom dimension.
type AxiomStatus struct {
	DimensionID string    `json:"dimension_id"`
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at"`
}

// BoltStore wraps a BoltDB instance with typed accessors for CYNIC's
// persistent layer. It is the PERSISTENT layer's storage engine; callers
// normally go through Organism rather than BoltStore directly.
type BoltStore struct {
	db                   *bolt.DB
	actionRetentionDays  int
}

// OpenBoltStore opens (or creates) the BoltDB database at path.
func OpenBoltStore(path string, actionRetentionDays int) (*BoltStore, error) {
	if actionRetentionDays <= 0 {
		actionRetentionDays = DefaultPendingActionRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &BoltStore{db: bdb, actionRetentionDays: actionRetentionDays}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketJudgments, bucketActions, bucketAxioms, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, organism requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func judgmentKey(t time.Time, judgmentID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), judgmentID))
}

// PutJudgment appends a judgment record to the persistent ledger.
func (s *BoltStore) PutJudgment(rec JudgmentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutJudgment marshal: %w", err)
	}
	key := judgmentKey(rec.CreatedAt, rec.JudgmentID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketJudgments)).Put(key, data)
	})
}

// ReadJudgments returns all persisted judgment records in chronological order.
func (s *BoltStore) ReadJudgments() ([]JudgmentRecord, error) {
	var out []JudgmentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketJudgments)).ForEach(func(_, v []byte) error {
			var rec JudgmentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// PutAction writes or updates a pending-action record, keyed by ActionID.
func (s *BoltStore) PutAction(rec ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutAction marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketActions)).Put([]byte(rec.ActionID), data)
	})
}

// ReadPendingActions returns all action records not yet marked completed.
func (s *BoltStore) ReadPendingActions() ([]ActionRecord, error) {
	var out []ActionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketActions)).ForEach(func(_, v []byte) error {
			var rec ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Completed {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// PruneCompletedActions deletes action records marked completed and older
// than the configured retention window. Returns the count deleted.
func (s *BoltStore) PruneCompletedActions() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.actionRetentionDays)
	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketActions))
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.Completed && rec.CreatedAt.Before(cutoff) {
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneCompletedActions delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// PutAxiomStatus writes the activation status of one dimension.
func (s *BoltStore) PutAxiomStatus(rec AxiomStatus) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutAxiomStatus marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAxioms)).Put([]byte(rec.DimensionID), data)
	})
}

// ReadAxiomStatuses returns every recorded axiom dimension status.
func (s *BoltStore) ReadAxiomStatuses() ([]AxiomStatus, error) {
	var out []AxiomStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAxioms)).ForEach(func(_, v []byte) error {
			var rec AxiomStatus
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
