package quack

// Polynomial holds k+1 field coefficients, highest degree first. Built
// from a sketch difference, its roots in GF(Modulus) are exactly the
// multiset difference of the two inserted sets, provided the difference
// has at most k elements.
type Polynomial struct {
	coeffs []ModInt
}

// NewPolynomial converts power sums into polynomial coefficients via
// Newton's identities:
//
//	e0 = 1
//	-e1 =                           - p1
//	 e2 = (1/2)*(              e1p1 - p2)
//	-e3 = (1/3)*(     - e2p1 + e1p2 - p3)
//	 e4 = (1/4)*(e3p1 - e2p2 + e1p3 - p4)
//
// The alternating signs are baked into the accumulation below, so the
// stored coefficients can be evaluated directly with Horner's rule.
func NewPolynomial(sums PowerSums) Polynomial {
	coeffs := make([]ModInt, sums.Size()+1)
	coeffs[0] = NewModInt(1)

	for i := 1; i < len(coeffs); i++ {
		for j := 1; j < i; j++ {
			coeffs[i] = coeffs[i].Sub(coeffs[i-j].Mul(sums.At(j - 1)))
		}
		coeffs[i] = coeffs[i].Sub(sums.At(i - 1))
		coeffs[i] = coeffs[i].Div(NewModInt(uint64(i)))
	}

	return Polynomial{coeffs: coeffs}
}

// Eval evaluates the polynomial at x with Horner's rule.
func (p Polynomial) Eval(x ModInt) ModInt {
	var y ModInt
	for _, c := range p.coeffs {
		y = y.Mul(x).Add(c)
	}
	return y
}

// Degree returns the polynomial degree (the sketch threshold).
func (p Polynomial) Degree() int {
	return len(p.coeffs) - 1
}

// RootsAmong evaluates the polynomial at each candidate and returns those
// that are roots. Root finding is deliberately restricted to a candidate
// list (the sender's own identifier log), never the whole field.
func (p Polynomial) RootsAmong(candidates []uint32) []uint32 {
	var roots []uint32
	for _, c := range candidates {
		if p.Eval(NewModInt(uint64(c))).IsZero() {
			roots = append(roots, c)
		}
	}
	return roots
}
