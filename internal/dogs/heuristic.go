package dogs

import (
	"context"
	"strings"
	"time"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/judgment"
)

func init() {
	Register("heuristic", func() Adapter { return NewHeuristicAdapter() })
}

// HeuristicAdapter is CYNIC's zero-cost, no-network default dog: a
// deterministic scorer good enough for the REFLEX path, where an LLM
// round-trip would blow the <10ms latency budget. It never errors and
// never reports a cost, mirroring the teacher's "heuristic" scorer
// category from spec.md §4.5 ("adapters may be heuristic... the core
// does not distinguish semantically, only by reported cost").
type HeuristicAdapter struct{}

// NewHeuristicAdapter constructs a HeuristicAdapter.
func NewHeuristicAdapter() *HeuristicAdapter { return &HeuristicAdapter{} }

func (h *HeuristicAdapter) Name() string { return "heuristic" }

func (h *HeuristicAdapter) ScoreDimensions(ctx context.Context, cell *judgment.Cell, dims []axiom.DimensionID) (Vote, error) {
	start := time.Now()
	scores := make(map[axiom.DimensionID]float64, len(dims))
	base := lengthSignal(cell.Content)
	for _, d := range dims {
		scores[d] = base
	}
	return Vote{
		Scores:     scores,
		Confidence: axiom.PHI_INV_2,
		CostUSD:    0,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// lengthSignal is a cheap proxy: non-trivial, non-empty content scores
// higher than empty or extremely short content. It exists to give the
// heuristic dog a deterministic, content-sensitive signal without any
// external call — a real deployment's REFLEX dog would plug in a
// purpose-built static analyzer per reality.
func lengthSignal(content string) float64 {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return 0.1
	case len(trimmed) < 8:
		return 0.35
	case len(trimmed) < 64:
		return 0.5
	default:
		return 0.55
	}
}
