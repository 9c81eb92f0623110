// Package axiom defines CYNIC's numeric constants and the five-axiom,
// thirty-six-dimension evaluative catalog judgments are scored against.
//
// The catalog shape is grounded on the teacher's escalation.Weights /
// escalation.Thresholds pair (internal/escalation/severity.go in the
// reference pack): a small, immutable, constructor-built table rather
// than package-level mutable maps, so that multiple independent CYNIC
// organisms in one process never share catalog state (spec.md §9).
package axiom

import "math"

// Golden-ratio constants. PHI_INV is derived once in double precision
// from (sqrt(5)-1)/2, per spec.md §6's bit-exact numeric contract.
var (
	PHI         = (1 + math.Sqrt(5)) / 2
	PHI_INV     = (math.Sqrt(5) - 1) / 2
	PHI_INV_2   = PHI_INV * PHI_INV
	PHI_INV_3   = PHI_INV_2 * PHI_INV

	// MaxConfidence bounds every Judgment.Confidence.
	MaxConfidence = PHI_INV
)

// ID names one of the five axioms.
type ID string

const (
	PHIAxiom    ID = "PHI"
	VERIFY      ID = "VERIFY"
	CULTURE     ID = "CULTURE"
	BURN        ID = "BURN"
	FIDELITY    ID = "FIDELITY"
)

// DimensionID names a leaf scoring criterion. THE_UNNAMEABLE is reserved
// and never assigned a default authoritative dog voter — it marks
// residual variance, not a scored axis.
type DimensionID string

const TheUnnameable DimensionID = "THE_UNNAMEABLE"

// Dimension is one leaf scoring criterion under an axiom.
type Dimension struct {
	ID     DimensionID
	Axiom  ID
	Weight float64 // φ⁻¹, φ⁻², or φ⁻³ per the catalog — never recomputed.
}

// Axiom is one of the five top-level evaluative lenses.
type Axiom struct {
	ID         ID
	Weight     float64 // the axiom's own weight in the q-score aggregation... (informational; q-score uses an unweighted geometric mean, see judgment.Engine)
	Dimensions []Dimension
}

// Catalog is the full, immutable axiom/dimension table.
type Catalog struct {
	axioms     []Axiom
	byAxiom    map[ID]Axiom
	byDim      map[DimensionID]Dimension
}

// dim is a small constructor helper kept private to this file.
func dim(id DimensionID, a ID, w float64) Dimension {
	return Dimension{ID: id, Axiom: a, Weight: w}
}

// NewCatalog builds the canonical 5-axiom, 36-dimension catalog. It is
// called once by the caller (typically at process startup) and the
// result is treated as immutable; there is no global catalog variable.
func NewCatalog() *Catalog {
	axioms := []Axiom{
		{
			ID:     PHIAxiom,
			Weight: PHI_INV,
			Dimensions: []Dimension{
				dim("COHERENCE", PHIAxiom, PHI_INV),
				dim("HARMONY", PHIAxiom, PHI_INV),
				dim("STRUCTURE", PHIAxiom, PHI_INV),
				dim("ELEGANCE", PHIAxiom, PHI_INV_2),
				dim("COMPLETENESS", PHIAxiom, PHI_INV),
				dim("PRECISION", PHIAxiom, PHI_INV_2),
				dim("PROPORTION", PHIAxiom, PHI_INV_3),
			},
		},
		{
			ID:     VERIFY,
			Weight: PHI_INV,
			Dimensions: []Dimension{
				dim("ACCURACY", VERIFY, PHI_INV),
				dim("VERIFIABILITY", VERIFY, PHI_INV),
				dim("TRANSPARENCY", VERIFY, PHI_INV),
				dim("REPRODUCIBILITY", VERIFY, PHI_INV_2),
				dim("PROVENANCE", VERIFY, PHI_INV_2),
				dim("INTEGRITY", VERIFY, PHI_INV),
				dim("CORROBORATION", VERIFY, PHI_INV_3),
			},
		},
		{
			ID:     CULTURE,
			Weight: PHI_INV,
			Dimensions: []Dimension{
				dim("AUTHENTICITY", CULTURE, PHI_INV),
				dim("RELEVANCE", CULTURE, PHI_INV),
				dim("NOVELTY", CULTURE, PHI_INV_2),
				dim("ALIGNMENT", CULTURE, PHI_INV),
				dim("IMPACT", CULTURE, PHI_INV_2),
				dim("RESONANCE", CULTURE, PHI_INV_3),
				dim("CONTEXT_FIT", CULTURE, PHI_INV_2),
			},
		},
		{
			ID:     BURN,
			Weight: PHI_INV_2,
			Dimensions: []Dimension{
				dim("UTILITY", BURN, PHI_INV),
				dim("SUSTAINABILITY", BURN, PHI_INV_2),
				dim("EFFICIENCY", BURN, PHI_INV_2),
				dim("VALUE_CREATION", BURN, PHI_INV),
				dim("NON_EXTRACTIVE", BURN, PHI_INV_2),
				dim("CONTRIBUTION", BURN, PHI_INV_3),
				dim("SCARCITY_RESPECT", BURN, PHI_INV_3),
			},
		},
		{
			ID:     FIDELITY,
			Weight: PHI_INV,
			Dimensions: []Dimension{
				dim("COMMITMENT", FIDELITY, PHI_INV),
				dim("ATTUNEMENT", FIDELITY, PHI_INV_2),
				dim("CANDOR", FIDELITY, PHI_INV),
				dim("REVISION", FIDELITY, PHI_INV_2),
				dim("RESTRAINT", FIDELITY, PHI_INV),
				dim("WITNESS", FIDELITY, PHI_INV_3),
				dim("TIKKUN", FIDELITY, PHI_INV_2),
			},
		},
	}

	c := &Catalog{
		axioms:  axioms,
		byAxiom: make(map[ID]Axiom, len(axioms)),
		byDim:   make(map[DimensionID]Dimension),
	}
	for _, a := range axioms {
		c.byAxiom[a.ID] = a
		for _, d := range a.Dimensions {
			c.byDim[d.ID] = d
		}
	}
	// THE_UNNAMEABLE is a reserved dimension, not authoritatively owned
	// by any axiom — it is tracked separately by the consensus engine.
	c.byDim[TheUnnameable] = Dimension{ID: TheUnnameable, Weight: PHI_INV_3}
	return c
}

// Axioms returns the five axioms in catalog order.
func (c *Catalog) Axioms() []Axiom { return c.axioms }

// Axiom looks up an axiom by ID.
func (c *Catalog) Axiom(id ID) (Axiom, bool) {
	a, ok := c.byAxiom[id]
	return a, ok
}

// Dimension looks up a dimension by ID, including THE_UNNAMEABLE.
func (c *Catalog) Dimension(id DimensionID) (Dimension, bool) {
	d, ok := c.byDim[id]
	return d, ok
}

// DimensionCount returns the total number of scored dimensions including
// THE_UNNAMEABLE (36 for the canonical catalog: 5×7 + 1).
func (c *Catalog) DimensionCount() int { return len(c.byDim) }

// Verdict is the committee's final call on a cell.
type Verdict string

const (
	Bark  Verdict = "BARK"
	Growl Verdict = "GROWL"
	Wag   Verdict = "WAG"
	Howl  Verdict = "HOWL"
)

// VerdictThresholds are the fixed Q-score band boundaries from spec.md
// §4.1: BARK<38, GROWL∈[38,50), WAG∈[50,82), HOWL≥82. Structurally this
// is the same sequential highest-threshold-first lookup as the teacher's
// escalation.TargetState, just with ascending bands instead of
// descending severity bands.
const (
	ThresholdGrowl = 38.0
	ThresholdWag   = 50.0
	ThresholdHowl  = 82.0
)

// VerdictFor maps a rounded Q-score to its verdict band. Comparisons use
// the already-rounded value, per spec.md §6.
func VerdictFor(qScore float64) Verdict {
	switch {
	case qScore >= ThresholdHowl:
		return Howl
	case qScore >= ThresholdWag:
		return Wag
	case qScore >= ThresholdGrowl:
		return Growl
	default:
		return Bark
	}
}
