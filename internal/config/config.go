// Package config provides configuration loading, validation, and
// hot-reload for the CYNIC organism.
//
// Configuration file: /etc/cynic/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The organism listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Only the orchestrator section (per-level target latencies and
//     the default level) is applied to the running organism.
//   - Every other section (learning, budget, dog roster, DB path, bus
//     queue capacity, log level, metrics bind address) takes effect
//     only after a restart.
//   - If the new config is invalid, the old config remains active and
//     an error is logged. The organism does NOT crash on invalid
//     hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., alpha ∈ [0,1], weights ≥ 0).
//   - File paths must be non-empty (they are not checked for being
//     absolute).
//   - Invalid config on startup: organism refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeyxx/cynic/internal/dogs"
	"github.com/zeyxx/cynic/internal/judgment"
	"github.com/zeyxx/cynic/internal/state"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for CYNIC: a single typed
// record, not a sprawl of ad hoc sub-configs — everything the organism
// needs to boot lives here, per spec.md §9's "single typed configuration
// record" design note.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// OrganismID is a unique identifier for this CYNIC process. Used in
	// audit chain entries and log fields.
	OrganismID string `yaml:"organism_id"`

	Bus           BusConfig           `yaml:"bus"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Dogs          DogsConfig          `yaml:"dogs"`
	Learning      LearningConfig      `yaml:"learning"`
	Budget        BudgetConfig        `yaml:"budget"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BusConfig holds event bus parameters.
type BusConfig struct {
	// QueueCapacity is the per-subscriber channel depth.
	// Default: 233 (Fibonacci F(13)).
	QueueCapacity int `yaml:"queue_capacity"`
}

// LevelLatency is the target latency budget for one consciousness level.
type LevelLatency struct {
	Reflex time.Duration `yaml:"reflex"`
	Micro  time.Duration `yaml:"micro"`
	Macro  time.Duration `yaml:"macro"`
	Meta   time.Duration `yaml:"meta"`
}

// OrchestratorConfig holds consciousness-level cycle parameters.
type OrchestratorConfig struct {
	// TargetLatency is the per-level target latency (hard cap is 2x).
	TargetLatency LevelLatency `yaml:"target_latency"`

	// DefaultLevel is used when a Cell does not pin a level and no
	// auto-selection signal is available. Default: MICRO.
	DefaultLevel string `yaml:"default_level"`
}

// DogsConfig configures the committee roster.
type DogsConfig struct {
	// Roster lists every dog seat to instantiate at startup.
	Roster []RosterEntry `yaml:"roster"`

	// RetryMaxAttempts bounds per-call adapter retries.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`

	// RetryInitialDelay is the first backoff delay.
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// RetryMaxDelay caps exponential backoff growth.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// RosterEntry configures one dog seat.
type RosterEntry struct {
	DogID      string   `yaml:"dog_id"`
	Dimensions []string `yaml:"dimensions"`
	Adapter    string   `yaml:"adapter"`
}

// LearningConfig holds Q-learning, Thompson-routing, and residual
// promotion parameters.
type LearningConfig struct {
	// Alpha is the Q-learning rate. Default: φ⁻¹ × 0.5 ≈ 0.309.
	Alpha float64 `yaml:"alpha"`

	// Gamma is the Q-learning discount factor. Default: φ⁻¹ ≈ 0.618.
	Gamma float64 `yaml:"gamma"`

	// ExplorationRate is the Thompson-routing falsification probability.
	// Default: φ⁻³ ≈ 0.236.
	ExplorationRate float64 `yaml:"exploration_rate"`

	// TopK is validated (>= 1) but not read by the orchestrator: MICRO
	// routes a fixed 3 dogs and MACRO/META route the full committee.
	TopK int `yaml:"top_k"`

	// ResidualMinObservations is the minimum observation_count before a
	// residual signature is eligible for promotion. Default: 50.
	ResidualMinObservations int `yaml:"residual_min_observations"`

	// PromotionRule is an expr-lang expression evaluated against
	// {observation_count, votes_for_promotion, ratio} to decide promotion
	// eligibility, letting operators tune the rule without a rebuild.
	// Default: "observation_count >= 50 && ratio >= 0.618".
	PromotionRule string `yaml:"promotion_rule"`
}

// BudgetConfig holds token bucket and USD ledger parameters.
type BudgetConfig struct {
	// Capacity is the maximum number of tokens. Default: 100.
	Capacity int `yaml:"capacity"`

	// RefillPeriod is the interval between full refills. Default: 60s.
	RefillPeriod time.Duration `yaml:"refill_period"`

	// GlobalDailyCapUSD is the organism-wide USD spend ceiling per UTC day.
	GlobalDailyCapUSD float64 `yaml:"global_daily_cap_usd"`
}

// StorageConfig holds BoltDB and snapshot parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	DBPath string `yaml:"db_path"`

	// SnapshotDir is the directory holding the three persisted-state
	// JSON files (consciousness.json, actions.json, checkpoint.json;
	// spec.md §6), or "" to disable file snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`

	// ActionRetentionDays is the completed-action retention period.
	ActionRetentionDays int `yaml:"action_retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		OrganismID:    hostname,
		Bus: BusConfig{
			QueueCapacity: 233,
		},
		Orchestrator: OrchestratorConfig{
			TargetLatency: LevelLatency{
				Reflex: 10 * time.Millisecond,
				Micro:  500 * time.Millisecond,
				Macro:  3 * time.Second,
				Meta:   5 * time.Minute,
			},
			DefaultLevel: string(judgment.LevelMicro),
		},
		Dogs: DogsConfig{
			RetryMaxAttempts:  3,
			RetryInitialDelay: 200 * time.Millisecond,
			RetryMaxDelay:     5 * time.Second,
			Roster:            defaultRosterEntries(),
		},
		Learning: LearningConfig{
			Alpha:                   0.309,
			Gamma:                   0.618,
			ExplorationRate:         0.236,
			TopK:                    3,
			ResidualMinObservations: 50,
			PromotionRule:           "observation_count >= 50 && ratio >= 0.618",
		},
		Budget: BudgetConfig{
			Capacity:          100,
			RefillPeriod:      60 * time.Second,
			GlobalDailyCapUSD: 10.0,
		},
		Storage: StorageConfig{
			DBPath:              state.DefaultDBPath,
			SnapshotDir:         "/var/lib/cynic/state",
			ActionRetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path. Returns
// the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all config fields for correctness. Returns a
// descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.OrganismID == "" {
		errs = append(errs, "organism_id must not be empty")
	}
	if cfg.Bus.QueueCapacity < 1 {
		errs = append(errs, fmt.Sprintf("bus.queue_capacity must be >= 1, got %d", cfg.Bus.QueueCapacity))
	}
	if !judgment.ValidLevel(cfg.Orchestrator.DefaultLevel) {
		errs = append(errs, fmt.Sprintf("orchestrator.default_level must be one of REFLEX/MICRO/MACRO/META, got %q", cfg.Orchestrator.DefaultLevel))
	}
	if len(cfg.Dogs.Roster) < 2 {
		errs = append(errs, fmt.Sprintf("dogs.roster must list at least 2 dogs, got %d", len(cfg.Dogs.Roster)))
	}
	if cfg.Dogs.RetryMaxAttempts < 0 {
		errs = append(errs, "dogs.retry_max_attempts must be >= 0")
	}
	if cfg.Learning.Alpha <= 0 || cfg.Learning.Alpha >= 1 {
		errs = append(errs, fmt.Sprintf("learning.alpha must be in (0,1), got %f", cfg.Learning.Alpha))
	}
	if cfg.Learning.Gamma <= 0 || cfg.Learning.Gamma >= 1 {
		errs = append(errs, fmt.Sprintf("learning.gamma must be in (0,1), got %f", cfg.Learning.Gamma))
	}
	if cfg.Learning.ExplorationRate < 0 || cfg.Learning.ExplorationRate > 1 {
		errs = append(errs, fmt.Sprintf("learning.exploration_rate must be in [0,1], got %f", cfg.Learning.ExplorationRate))
	}
	if cfg.Learning.TopK < 1 {
		errs = append(errs, fmt.Sprintf("learning.top_k must be >= 1, got %d", cfg.Learning.TopK))
	}
	if cfg.Learning.ResidualMinObservations < 1 {
		errs = append(errs, "learning.residual_min_observations must be >= 1")
	}
	if cfg.Learning.PromotionRule == "" {
		errs = append(errs, "learning.promotion_rule must not be empty")
	}
	if cfg.Budget.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("budget.capacity must be >= 1, got %d", cfg.Budget.Capacity))
	}
	if cfg.Budget.RefillPeriod < time.Second {
		errs = append(errs, fmt.Sprintf("budget.refill_period must be >= 1s, got %s", cfg.Budget.RefillPeriod))
	}
	if cfg.Budget.GlobalDailyCapUSD <= 0 {
		errs = append(errs, "budget.global_daily_cap_usd must be > 0")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.ActionRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.action_retention_days must be >= 1, got %d", cfg.Storage.ActionRetentionDays))
	}
	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// defaultRosterEntries converts dogs.DefaultRoster() into the config
// shape, so the default config and the package's canonical 11-dog
// committee never drift apart.
func defaultRosterEntries() []RosterEntry {
	roles := dogs.DefaultRoster()
	out := make([]RosterEntry, 0, len(roles))
	for _, r := range roles {
		dims := make([]string, len(r.Dimensions))
		for i, d := range r.Dimensions {
			dims[i] = string(d)
		}
		out = append(out, RosterEntry{DogID: r.DogID, Dimensions: dims, Adapter: r.Adapter})
	}
	return out
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
