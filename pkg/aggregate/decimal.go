// Package aggregate computes the per-slot weighted-median aggregate price,
// confidence interval and EMA/TWAP update for one price account, porting
// the oracle program's fixed-point decimal arithmetic and aggregation
// algorithm (original_source/program/src/oracle/pd.h and
// upd_aggregate.h) into Go.
package aggregate

// Decimal is a base-10 fixed-point number V * 10^E. Arithmetic mirrors
// pd.h's pd_t bit for bit (same scale/adjust/mul/div/add/sub/sqrt
// behavior, including its truncating division and magnitude-guided
// exponent drops) so that aggregation matches the on-chain computation.
type Decimal struct {
	V int64
	E int32
}

const scale9 = int64(1_000_000_000)

// factorSize is PC_FACTOR_SIZE: the width of the powers-of-ten table pd.h's
// pd_add/pd_sub/pd_adjust index into.
const factorSize = 18

var pow10 [factorSize]int64

func init() {
	pow10[0] = 1
	for i := 1; i < factorSize; i++ {
		pow10[i] = pow10[i-1] * 10
	}
}

// NewDecimal builds a Decimal and normalizes it, as pd_new_scale does.
func NewDecimal(v int64, e int32) Decimal {
	d := Decimal{V: v, E: e}
	d.normalize()
	return d
}

// normalize keeps V's magnitude under 1<<28, absorbing the dropped digits
// into E, exactly as pd_scale.
func (d *Decimal) normalize() {
	neg := d.V < 0
	v := d.V
	if neg {
		v = -v
	}
	for v >= (1 << 28) {
		v /= 10
		d.E++
	}
	if neg {
		v = -v
	}
	d.V = v
}

// Rescale returns d re-expressed at exponent e, truncating as pd_adjust
// does when e is coarser than d.E.
func (d Decimal) Rescale(e int32) Decimal {
	v := d.V
	diff := int(d.E) - int(e)
	switch {
	case diff > 0 && diff < factorSize:
		v *= pow10[diff]
	case diff < 0 && -diff < factorSize:
		v /= pow10[-diff]
	}
	return Decimal{V: v, E: e}
}

// Mul returns a*b, per pd_mul.
func Mul(a, b Decimal) Decimal {
	r := Decimal{V: a.V * b.V, E: a.E + b.E}
	r.normalize()
	return r
}

// Div returns a/b, per pd_div: a is scaled up to use the full 64-bit range
// before dividing, recovering precision that a naive integer division
// would lose.
func Div(a, b Decimal) Decimal {
	if a.V == 0 {
		return a
	}
	v1, v2 := a.V, b.V
	neg1, neg2 := v1 < 0, v2 < 0
	if neg1 {
		v1 = -v1
	}
	if neg2 {
		v2 = -v2
	}
	m := int32(0)
	for uint64(v1)&0xfffffffff0000000 == 0 {
		v1 *= 10
		m++
	}
	rv := (v1 * scale9) / v2
	if neg1 {
		rv = -rv
	}
	if neg2 {
		rv = -rv
	}
	r := Decimal{V: rv, E: a.E - b.E - m - 9}
	r.normalize()
	return r
}

// Add returns a+b, per pd_add: operands more than factorSize+9 orders of
// magnitude apart collapse to the larger one.
func Add(a, b Decimal) Decimal {
	r := addOrSub(a, b, false)
	r.normalize()
	return r
}

// Sub returns a-b, per pd_sub.
func Sub(a, b Decimal) Decimal {
	r := addOrSub(a, b, true)
	r.normalize()
	return r
}

func addOrSub(a, b Decimal, sub bool) Decimal {
	sign := int64(1)
	if sub {
		sign = -1
	}
	d := int(a.E) - int(b.E)
	switch {
	case d == 0:
		return Decimal{V: a.V + sign*b.V, E: a.E}
	case d > 0:
		if d < 9 {
			return Decimal{V: a.V*pow10[d] + sign*b.V, E: b.E}
		}
		if d < factorSize+9 {
			return Decimal{V: a.V*scale9 + sign*(b.V/pow10[d-9]), E: a.E - 9}
		}
		return a
	default:
		d = -d
		if d < 9 {
			return Decimal{V: a.V + sign*(b.V*pow10[d]), E: a.E}
		}
		if d < factorSize+9 {
			return Decimal{V: a.V/pow10[d-9] + sign*(b.V * scale9), E: b.E - 9}
		}
		if sub {
			return Decimal{V: -b.V, E: b.E}
		}
		return b
	}
}

// Less reports whether a<b, per pd_lt (via subtraction sign).
func Less(a, b Decimal) bool {
	return Sub(a, b).V < 0
}

// Greater reports whether a>b, per pd_gt.
func Greater(a, b Decimal) bool {
	return Sub(a, b).V > 0
}

// Sqrt returns the square root of val via Newton's method, per pd_sqrt.
func Sqrt(val Decimal) Decimal {
	one := Decimal{V: 1, E: 0}
	half := Decimal{V: 5, E: -1}
	x := Mul(Add(val, one), half)
	for {
		r := Div(val, x)
		r = Add(r, x)
		r = Mul(r, half)
		if x.V == r.V {
			return r
		}
		x = r
	}
}
