package axiom_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeyxx/cynic/internal/axiom"
)

func TestPhiInvariants(t *testing.T) {
	assert.InDelta(t, 1.0, axiom.PHI*axiom.PHI_INV, 1e-12, "PHI * PHI_INV should be 1.0")
	assert.InDelta(t, 0.6180339887, axiom.PHI_INV, 1e-9)
	assert.Equal(t, axiom.PHI_INV, axiom.MaxConfidence)
}

func TestCatalogHasThirtySixDimensions(t *testing.T) {
	c := axiom.NewCatalog()
	require.Equal(t, 36, c.DimensionCount(), "expected 35 dimensions + THE_UNNAMEABLE")
	require.Len(t, c.Axioms(), 5)
	for _, a := range c.Axioms() {
		assert.Lenf(t, a.Dimensions, 7, "axiom %s", a.ID)
	}
	_, ok := c.Dimension(axiom.TheUnnameable)
	assert.True(t, ok, "expected THE_UNNAMEABLE to be a resolvable dimension")
}

func TestCatalogIndependentInstances(t *testing.T) {
	c1 := axiom.NewCatalog()
	c2 := axiom.NewCatalog()
	assert.NotSame(t, c1, c2, "NewCatalog must not return a shared singleton")
}

func TestVerdictFor(t *testing.T) {
	cases := []struct {
		q    float64
		want axiom.Verdict
	}{
		{0, axiom.Bark},
		{37.999, axiom.Bark},
		{38, axiom.Growl},
		{49.999, axiom.Growl},
		{50, axiom.Wag},
		{81.999, axiom.Wag},
		{82, axiom.Howl},
		{100, axiom.Howl},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, axiom.VerdictFor(tc.q), "VerdictFor(%v)", tc.q)
	}
}
