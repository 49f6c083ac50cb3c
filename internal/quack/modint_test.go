package quack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestModIntReduction(t *testing.T) {
	tests := []struct {
		name string
		in   uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"small", 42, 42},
		{"prime minus one", Modulus - 1, Modulus - 1},
		{"prime reduces to zero", Modulus, 0},
		{"prime plus one", Modulus + 1, 1},
		{"max uint32", 1<<32 - 1, (1<<32 - 1) % Modulus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewModInt(tt.in).Value())
		})
	}
}

func TestModIntSubWraps(t *testing.T) {
	a := NewModInt(3)
	b := NewModInt(5)
	assert.Equal(t, Modulus-2, a.Sub(b).Value())
	assert.Equal(t, uint64(2), b.Sub(a).Value())
}

func TestModIntInverseLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint64Range(1, Modulus-1).Draw(t, "x")
		m := NewModInt(x)
		assert.Equal(t, uint64(1), m.Mul(m.Inverse()).Value())
	})
}

func TestModIntInverseNearWrap(t *testing.T) {
	for _, x := range []uint64{1, 2, Modulus - 2, Modulus - 1} {
		m := NewModInt(x)
		if got := m.Mul(m.Inverse()).Value(); got != 1 {
			t.Errorf("inverse(%d): x*inv(x) = %d, want 1", x, got)
		}
	}
}

func TestModIntDiv(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewModInt(rapid.Uint64().Draw(t, "a"))
		b := NewModInt(rapid.Uint64Range(1, Modulus-1).Draw(t, "b"))
		assert.Equal(t, a.Value(), a.Div(b).Mul(b).Value())
	})
}

func TestModIntFieldLaws(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := NewModInt(rapid.Uint64().Draw(t, "a"))
		b := NewModInt(rapid.Uint64().Draw(t, "b"))
		c := NewModInt(rapid.Uint64().Draw(t, "c"))

		assert.Equal(t, a.Add(b), b.Add(a))
		assert.Equal(t, a.Mul(b), b.Mul(a))
		assert.Equal(t, a.Mul(b.Add(c)), a.Mul(b).Add(a.Mul(c)))
		assert.Equal(t, a, a.Add(b).Sub(b))
	})
}
