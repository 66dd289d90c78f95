package aggregate

import "testing"

func toFloat(d Decimal) float64 {
	f := float64(d.V)
	e := d.E
	for e > 0 {
		f *= 10
		e--
	}
	for e < 0 {
		f /= 10
		e++
	}
	return f
}

func approx(t *testing.T, got, want float64, tol float64) {
	t.Helper()
	if got-want > tol || want-got > tol {
		t.Fatalf("got %v, want %v (+/- %v)", got, want, tol)
	}
}

func TestDecimalAddAlignsExponents(t *testing.T) {
	a := NewDecimal(150, -1) // 15.0
	b := NewDecimal(25, 0)   // 25
	got := Add(a, b)
	approx(t, toFloat(got), 40.0, 0.0001)
}

func TestDecimalSubNegative(t *testing.T) {
	a := NewDecimal(10, 0)
	b := NewDecimal(25, 0)
	got := Sub(a, b)
	approx(t, toFloat(got), -15.0, 0.0001)
}

func TestDecimalMulDiv(t *testing.T) {
	a := NewDecimal(6, 0)
	b := NewDecimal(7, 0)
	got := Mul(a, b)
	approx(t, toFloat(got), 42.0, 0.0001)

	q := Div(got, b)
	approx(t, toFloat(q), 6.0, 0.001)
}

func TestDecimalLessGreater(t *testing.T) {
	a := NewDecimal(5, 0)
	b := NewDecimal(10, 0)
	if !Less(a, b) {
		t.Fatal("5 < 10 should hold")
	}
	if !Greater(b, a) {
		t.Fatal("10 > 5 should hold")
	}
	if Less(b, a) || Greater(a, b) {
		t.Fatal("reverse comparisons must be false")
	}
}

func TestDecimalSqrt(t *testing.T) {
	got := Sqrt(NewDecimal(4, 0))
	approx(t, toFloat(got), 2.0, 0.001)

	got = Sqrt(NewDecimal(2, 0))
	approx(t, toFloat(got), 1.41421356, 0.0001)
}

func TestDecimalRescaleTruncates(t *testing.T) {
	d := NewDecimal(12345, -2) // 123.45
	got := d.Rescale(0)
	if got.V != 123 {
		t.Fatalf("rescaled v = %d, want 123 (truncated)", got.V)
	}
}
