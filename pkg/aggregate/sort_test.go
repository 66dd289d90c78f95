package aggregate

import (
	"reflect"
	"testing"
)

func TestSortInt64(t *testing.T) {
	v := []int64{5, -3, 0, 17, -3, 2}
	sortInt64(v)
	want := []int64{-3, -3, 0, 2, 5, 17}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("sortInt64 = %v, want %v", v, want)
	}
}

func TestSortInt64SingleAndEmpty(t *testing.T) {
	v := []int64{}
	sortInt64(v)
	if len(v) != 0 {
		t.Fatalf("expected empty slice to stay empty")
	}
	v2 := []int64{9}
	sortInt64(v2)
	if v2[0] != 9 {
		t.Fatalf("single-element sort mutated value")
	}
}

func TestInsertSorted(t *testing.T) {
	prices := make([]Decimal, 4)
	weights := make([]Decimal, 4)
	vals := []int64{30, 10, 20, 5}
	for i, v := range vals {
		insertSorted(prices, weights, i, NewDecimal(v, 0), NewDecimal(1, 0))
	}
	want := []int64{5, 10, 20, 30}
	for i, w := range want {
		if prices[i].V != w {
			t.Fatalf("prices[%d] = %d, want %d", i, prices[i].V, w)
		}
	}
}
