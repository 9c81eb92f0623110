package dogs

import "github.com/zeyxx/cynic/internal/axiom"

// DefaultRoster returns CYNIC's canonical 11-dog committee, the default
// used when no roster is configured. Each of the five axioms gets a
// dedicated authoritative voter for all seven of its dimensions, and
// five further dogs cover cross-cutting slices (one REFLEX-speed
// overlap seat and a meta-generalist) plus one deliberate overlap band
// per axiom, so no single dimension has a single point of failure
// (spec.md §9: "each implementation may assign dogs to dimensions
// provided every dimension has >=1 authoritative voter"). THE_UNNAMEABLE
// is deliberately unassigned — it is the consensus engine's residual
// marker, never a dog-scored dimension.
//
// All seats default to the "heuristic" adapter; a deployment wires LLM-
// backed adapters in per dog_id via config without changing this shape.
func DefaultRoster() []Role {
	return []Role{
		{
			DogID:      "phi-warden",
			Dimensions: dims("COHERENCE", "HARMONY", "STRUCTURE", "ELEGANCE", "COMPLETENESS", "PRECISION", "PROPORTION"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "verify-warden",
			Dimensions: dims("ACCURACY", "VERIFIABILITY", "TRANSPARENCY", "REPRODUCIBILITY", "PROVENANCE", "INTEGRITY", "CORROBORATION"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "culture-warden",
			Dimensions: dims("AUTHENTICITY", "RELEVANCE", "NOVELTY", "ALIGNMENT", "IMPACT", "RESONANCE", "CONTEXT_FIT"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "burn-warden",
			Dimensions: dims("UTILITY", "SUSTAINABILITY", "EFFICIENCY", "VALUE_CREATION", "NON_EXTRACTIVE", "CONTRIBUTION", "SCARCITY_RESPECT"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "fidelity-warden",
			Dimensions: dims("COMMITMENT", "ATTUNEMENT", "CANDOR", "REVISION", "RESTRAINT", "WITNESS", "TIKKUN"),
			Adapter:    "heuristic",
		},
		// reflex-heuristic is the fastest seat: the deliberate overlap
		// band for the PHI axiom's two most structural dimensions, and
		// one of REFLEX's two voters. phi-warden (above) doubles as the
		// second REFLEX voter so the level itself can reach the >=2-vote
		// quorum floor (spec.md §4.9/§8: a single-dog cycle always fails
		// InsufficientQuorum, even at REFLEX) without a dedicated extra
		// seat — both default to the "heuristic" adapter, so routing
		// phi-warden into REFLEX never violates "heuristic only".
		{
			DogID:      "reflex-heuristic",
			Dimensions: dims("COHERENCE", "STRUCTURE"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "accuracy-cross",
			Dimensions: dims("ACCURACY", "INTEGRITY", "TRANSPARENCY"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "impact-cross",
			Dimensions: dims("RELEVANCE", "IMPACT", "ALIGNMENT"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "utility-cross",
			Dimensions: dims("UTILITY", "EFFICIENCY", "VALUE_CREATION"),
			Adapter:    "heuristic",
		},
		{
			DogID:      "candor-cross",
			Dimensions: dims("CANDOR", "RESTRAINT", "COMMITMENT"),
			Adapter:    "heuristic",
		},
		// meta-generalist samples one dimension per axiom, the committee's
		// seat for the META level's self-observation pass.
		{
			DogID:      "meta-generalist",
			Dimensions: dims("COMPLETENESS", "PROVENANCE", "NOVELTY", "CONTRIBUTION", "WITNESS"),
			Adapter:    "heuristic",
		},
	}
}

// ReflexRoster returns the fastest-seat subset used at the REFLEX level
// (spec.md §4.9: "single fastest dog(s); heuristic only"). phi-warden
// is included here purely to clear the >=2-vote quorum floor; its
// full, non-REFLEX-exclusive dimension set scores normally.
func ReflexRoster() []string {
	return []string{"reflex-heuristic", "phi-warden"}
}

func dims(ids ...string) []axiom.DimensionID {
	out := make([]axiom.DimensionID, len(ids))
	for i, id := range ids {
		out[i] = axiom.DimensionID(id)
	}
	return out
}
