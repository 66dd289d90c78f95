package aggregate

// sortInt64 sorts v ascending in place. Ported from
// original_source/program/src/oracle/sort.c's qsort_int64: first-element
// pivot, Hoare-style partition. The price±confidence endpoint array it
// sorts has no associated payload, so an unstable in-place sort matches
// the oracle program exactly; no stability requirement applies here.
func sortInt64(v []int64) {
	quicksortInt64(v, 0, len(v)-1)
}

func quicksortInt64(v []int64, i, j int) {
	if i >= j {
		return
	}
	p := partitionInt64(v, i, j)
	quicksortInt64(v, i, p-1)
	quicksortInt64(v, p+1, j)
}

func partitionInt64(v []int64, i, j int) int {
	p := i
	pv := v[p]
	for i < j {
		for i <= j && v[i] <= pv {
			i++
		}
		for v[j] > pv {
			j--
		}
		if i < j {
			v[i], v[j] = v[j], v[i]
		}
	}
	v[p], v[j] = v[j], v[p]
	return j
}

// insertSorted inserts (price, weight) into the parallel prices/weights
// slices (already sorted ascending by price[0:n]) at the position that
// keeps prices ascending, per upd_aggregate.h's inline insertion sort of
// the upper/lower price-bound arrays.
func insertSorted(prices, weights []Decimal, n int, price, weight Decimal) {
	j := n
	for j > 0 && Less(price, prices[j-1]) {
		prices[j] = prices[j-1]
		weights[j] = weights[j-1]
		j--
	}
	prices[j] = price
	weights[j] = weight
}
