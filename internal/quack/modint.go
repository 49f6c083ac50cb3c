// Package quack implements the power-sum sketch and wire format used to
// report received packets from an in-network proxy back to a data sender.
//
// The sketch works over the prime field GF(p) with p the largest prime
// below 2^32, so every 32-bit packet identifier maps to a field element
// and each power sum fits in one 4-byte wire word.
package quack

// Modulus is the sketch field prime: the largest prime <= 2^32 - 1.
const Modulus uint64 = 4294967291

// ModInt is a value in GF(Modulus). The stored representative is always
// in [0, Modulus). The zero value is the field's zero element.
type ModInt struct {
	v uint64
}

// NewModInt reduces n modulo the field prime.
func NewModInt(n uint64) ModInt {
	return ModInt{v: n % Modulus}
}

// Value returns the canonical representative in [0, Modulus).
func (m ModInt) Value() uint64 {
	return m.v
}

// IsZero reports whether m is the field's zero element.
func (m ModInt) IsZero() bool {
	return m.v == 0
}

// Add returns m + rhs in the field.
func (m ModInt) Add(rhs ModInt) ModInt {
	return ModInt{v: (m.v + rhs.v) % Modulus}
}

// Sub returns m - rhs in the field.
func (m ModInt) Sub(rhs ModInt) ModInt {
	v := m.v
	if v < rhs.v {
		v += Modulus
	}
	return ModInt{v: v - rhs.v}
}

// Mul returns m * rhs in the field. Both operands are below 2^32, so the
// product fits a uint64 without overflow.
func (m ModInt) Mul(rhs ModInt) ModInt {
	return ModInt{v: (m.v * rhs.v) % Modulus}
}

// Inverse returns the multiplicative inverse of m via the extended
// Euclidean algorithm. m must not be zero; zero has no inverse and the
// result for it is meaningless.
func (m ModInt) Inverse() ModInt {
	t, newT := int64(0), int64(1)
	r, newR := int64(Modulus), int64(m.v)

	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}

	if t < 0 {
		t += int64(Modulus)
	}
	return ModInt{v: uint64(t)}
}

// Div returns m / rhs in the field. rhs must not be zero.
func (m ModInt) Div(rhs ModInt) ModInt {
	return m.Mul(rhs.Inverse())
}
