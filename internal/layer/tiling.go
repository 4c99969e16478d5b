package layer

import "strconv"

// TilingFactor relates physical buffer entries to logical entries. A factor
// of 2 means each input entry yields two output entries; a factor of 1/2
// means two input entries are reduced to one.
//
// The zero value is treated as one.
type TilingFactor struct {
	Num int
	Den int
}

// One is the neutral tiling factor.
var One = TilingFactor{Num: 1, Den: 1}

// Tiling returns the factor k.
func Tiling(k int) TilingFactor {
	return TilingFactor{Num: k, Den: 1}.norm()
}

func (t TilingFactor) norm() TilingFactor {
	if t.Num == 0 || t.Den == 0 {
		return One
	}
	g := gcd(t.Num, t.Den)
	return TilingFactor{Num: t.Num / g, Den: t.Den / g}
}

// Inverse returns 1/t.
func (t TilingFactor) Inverse() TilingFactor {
	t = t.norm()
	return TilingFactor{Num: t.Den, Den: t.Num}
}

// Mul composes two factors.
func (t TilingFactor) Mul(o TilingFactor) TilingFactor {
	t, o = t.norm(), o.norm()
	return TilingFactor{Num: t.Num * o.Num, Den: t.Den * o.Den}.norm()
}

// IsOne reports whether t is neutral.
func (t TilingFactor) IsOne() bool {
	t = t.norm()
	return t.Num == t.Den
}

// ExceedsOne reports whether t is greater than one.
func (t TilingFactor) ExceedsOne() bool {
	t = t.norm()
	return t.Num > t.Den
}

// Equal compares two factors.
func (t TilingFactor) Equal(o TilingFactor) bool {
	return t.norm() == o.norm()
}

// Entries scales an entry count by t. It reports false when the result is
// not integral.
func (t TilingFactor) Entries(n int) (int, bool) {
	t = t.norm()
	if (n*t.Num)%t.Den != 0 {
		return 0, false
	}
	return n * t.Num / t.Den, true
}

// Quantum returns the smallest positive entry count t maps to a whole
// number of entries.
func (t TilingFactor) Quantum() int {
	return t.norm().Den
}

// Int returns the integral factor, or 0 when t is not an integer.
func (t TilingFactor) Int() int {
	t = t.norm()
	if t.Den != 1 {
		return 0
	}
	return t.Num
}

// String formats the factor as "k" or "n/d".
func (t TilingFactor) String() string {
	t = t.norm()
	if t.Den == 1 {
		return strconv.Itoa(t.Num)
	}
	return strconv.Itoa(t.Num) + "/" + strconv.Itoa(t.Den)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// LCM returns the least common multiple of a and b.
func LCM(a, b int) int {
	return a / gcd(a, b) * b
}
