package quack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// decodeFailer is the subset of *testing.T and *rapid.T that decodeMissing
// needs, so it can be called from both plain tests and rapid properties.
type decodeFailer interface {
	Errorf(format string, args ...any)
	FailNow()
}

// decodeMissing builds both sides' sketches, differences them, and returns
// the ids among sent that the difference polynomial reports as missing.
func decodeMissing(t decodeFailer, threshold int, sent, observed []uint64) []uint32 {
	local := NewPowerSums(threshold)
	candidates := make([]uint32, 0, len(sent))
	for _, id := range sent {
		local.Add(NewModInt(id))
		candidates = append(candidates, uint32(id%Modulus))
	}
	remote := NewPowerSums(threshold)
	for _, id := range observed {
		remote.Add(NewModInt(id))
	}

	diff, err := local.Difference(remote)
	require.NoError(t, err)
	return NewPolynomial(diff).RootsAmong(candidates)
}

func TestDecodeIdenticalSets(t *testing.T) {
	ids := []uint64{100, 200, 300, 400, 500, 600}
	missing := decodeMissing(t, 4, ids, ids)
	assert.Empty(t, missing)
}

func TestDecodeSingleLoss(t *testing.T) {
	sent := []uint64{10, 20, 30, 40, 50}
	observed := []uint64{10, 30, 40, 50}
	assert.Equal(t, []uint32{20}, decodeMissing(t, 4, sent, observed))
}

func TestDecodeMultipleLossesWithinThreshold(t *testing.T) {
	sent := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	observed := []uint64{1, 3, 5, 7}
	assert.Equal(t, []uint32{2, 4, 6, 8}, decodeMissing(t, 4, sent, observed))
}

func TestDecodeNearWrapArithmetic(t *testing.T) {
	// Inputs beyond the prime reduce mod p before sketching.
	sent := []uint64{Modulus - 2, Modulus - 1, Modulus + 1, Modulus + 2, 3, 4, 5}
	observed := []uint64{Modulus - 2, Modulus + 1, Modulus + 2}
	want := []uint32{uint32(Modulus - 1), 3, 4, 5}
	assert.ElementsMatch(t, want, decodeMissing(t, 4, sent, observed))
}

func TestDecodeZeroIdentifier(t *testing.T) {
	// Zero is absorbing: with no losses at all, the difference polynomial
	// is x^k, whose only root is zero. An id of 0 therefore always looks
	// lost, which is why ids of value 0 are refused at ingest.
	sent := []uint64{0, 7, 9}
	observed := []uint64{0, 7, 9}
	missing := decodeMissing(t, 4, sent, observed)
	assert.Equal(t, []uint32{0}, missing)
}

func TestDecodeOverloadBeyondThreshold(t *testing.T) {
	// Three losses against a threshold of two: the polynomial has at most
	// two roots and none of them need be a true loss. Only graceful
	// degradation is asserted.
	sent := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	observed := []uint64{1, 2, 3, 4, 8}
	missing := decodeMissing(t, 2, sent, observed)
	assert.LessOrEqual(t, len(missing), 2)
}

func TestDecodeNoFalsePositivesWhenNothingLost(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.Uint64Range(1, Modulus-1), 1, 24, rapid.ID[uint64]).Draw(t, "ids")
		assert.Empty(t, decodeMissing(t, 4, ids, ids))
	})
}

func TestDecodeSymmetricDifferenceLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.Uint64Range(1, Modulus-1), 2, 20, rapid.ID[uint64]).Draw(t, "ids")
		k := 4
		nLost := rapid.IntRange(1, min(k, len(ids))).Draw(t, "nLost")

		lost := map[uint64]bool{}
		for _, id := range ids[:nLost] {
			lost[id] = true
		}
		var observed []uint64
		for _, id := range ids {
			if !lost[id] {
				observed = append(observed, id)
			}
		}

		missing := decodeMissing(t, k, ids, observed)
		require.Len(t, missing, nLost)
		for _, id := range missing {
			assert.True(t, lost[uint64(id)], "id %d reported lost but was delivered", id)
		}
	})
}

func TestPolynomialDegree(t *testing.T) {
	p := NewPolynomial(NewPowerSums(8))
	assert.Equal(t, 8, p.Degree())
}
