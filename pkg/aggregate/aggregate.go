package aggregate

import (
	"math"

	"github.com/pyth-network/pythd/pkg/schema"
)

// maxSendLatency is PC_MAX_SEND_LATENCY: a publisher's quote is only
// eligible for aggregation up to this many slots after it was published.
const maxSendLatency = 25

// expDecay is PC_EXP_DECAY: the storage exponent of decayTable's entries.
const expDecay = int32(-9)

// decayTable holds sqrt(1..25)*1e9 at exponent expDecay, indexed by a
// publisher's slot staleness: scales its confidence interval outward the
// longer its quote has gone unrefreshed.
var decayTable = [maxSendLatency + 1]int64{
	1_000_000_000, 1_000_000_000, 1_414_213_562, 1_732_050_807, 2_000_000_000,
	2_236_067_977, 2_449_489_742, 2_645_751_311, 2_828_427_124, 3_000_000_000,
	3_162_277_660, 3_316_624_790, 3_464_101_615, 3_605_551_275, 3_741_657_386,
	3_872_983_346, 4_000_000_000, 4_123_105_625, 4_242_640_687, 4_358_898_943,
	4_472_135_954, 4_582_575_694, 4_690_415_759, 4_795_831_523, 4_898_979_485,
	5_000_000_000,
}

var (
	half = Decimal{V: 5, E: -1}
	q3p  = Decimal{V: 75, E: -2}
	q1p  = Decimal{V: 25, E: -2}
)

// Result summarizes the aggregate Aggregate has just written into acct.
type Result struct {
	Status schema.PriceStatus
	Price  int64
	Conf   uint64
	NumQt  uint32
}

// Aggregate recomputes acct's published price for slot from its
// publishers' latest per-slot quotes, mutating acct in place (Agg, NumQt,
// LastSlot, ValidSlot, Prev*, Twap, Twac). Ported from upd_aggregate.h's
// upd_aggregate: snapshot latest into agg, filter to valid trading quotes
// within maxSendLatency slots, reject outliers against a median-derived
// band, require quorum, then take the aggregate price/confidence as a
// capped-inverse-distance-weighted median with the wider of the weighted
// IQR or weighted upper/lower-bound spread as the confidence interval.
func Aggregate(acct *schema.PriceAccount, slot uint64) Result {
	if slot <= acct.Agg.PubSlot {
		return Result{
			Status: schema.PriceStatus(acct.Agg.Status),
			Price:  acct.Agg.Price,
			Conf:   acct.Agg.Conf,
			NumQt:  acct.NumQt,
		}
	}

	aggDiff := int64(slot) - int64(acct.LastSlot)

	acct.PrevSlot = acct.ValidSlot
	acct.PrevPrice = acct.Agg.Price
	acct.PrevConf = acct.Agg.Conf
	acct.PrevTimestamp = acct.Timestamp

	acct.ValidSlot = acct.Agg.PubSlot
	acct.Agg.PubSlot = slot

	n := int(acct.Num)
	if n > len(acct.Components) {
		n = len(acct.Components)
	}

	var vidx []int
	for i := 0; i < n; i++ {
		c := &acct.Components[i]
		c.Agg = c.Latest
		slotDiff := int64(slot) - int64(c.Agg.PubSlot)
		if schema.PriceStatus(c.Agg.Status) == schema.PriceStatusTrading &&
			c.Agg.Conf != 0 &&
			c.Agg.Price > 0 &&
			slotDiff >= 0 && slotDiff <= maxSendLatency {
			vidx = append(vidx, i)
		}
	}
	numv := len(vidx)

	prcs := make([]int64, 0, numv*2)
	for _, idx := range vidx {
		c := &acct.Components[idx]
		prcs = append(prcs, c.Agg.Price-int64(c.Agg.Conf))
		prcs = append(prcs, c.Agg.Price+int64(c.Agg.Conf))
	}
	sortInt64(prcs)

	var aidx []int
	if len(prcs) > 0 {
		mprc := (prcs[numv-1] + prcs[numv]) / 2
		lb := mprc / 5
		ub := mprc * 5
		if mprc > math.MaxInt64/5 {
			ub = math.MaxInt64
		}
		for _, idx := range vidx {
			prc := acct.Components[idx].Agg.Price
			if prc < lb || prc > ub {
				continue
			}
			aidx = append(aidx, idx)
			j := len(aidx) - 1
			for j > 0 && acct.Components[aidx[j-1]].Agg.Price > prc {
				aidx[j] = aidx[j-1]
				j--
			}
			aidx[j] = idx
		}
	}
	numa := uint32(len(aidx))
	acct.NumQt = numa

	if numa == 0 || numa < uint32(acct.MinPub) || numa*2 <= uint32(numv) {
		acct.Agg.Status = uint32(schema.PriceStatusUnknown)
		return Result{Status: schema.PriceStatusUnknown, NumQt: numa}
	}

	acct.Agg.Status = uint32(schema.PriceStatusTrading)
	acct.LastSlot = slot

	if numa == 1 {
		// A lone surviving quote has no neighbour to measure a distance-based
		// weight against and no second opinion for the outlier band to test,
		// so its confidence is widened by the same factor ([m/5, 5m]) that
		// band would otherwise have applied to a multi-quote set.
		c := &acct.Components[aidx[0]]
		slotDiff := int64(slot) - int64(c.Agg.PubSlot)
		decay := Decimal{V: decayTable[slotDiff], E: expDecay}
		conf := Mul(NewDecimal(int64(c.Agg.Conf), acct.Exponent), decay)
		conf = Mul(conf, Decimal{V: 5, E: 0})
		conf = conf.Rescale(acct.Exponent)

		acct.Agg.Price = c.Agg.Price
		acct.Agg.Conf = uint64(conf.V)
		UpdateTWAP(acct, aggDiff)
		return Result{Status: schema.PriceStatusTrading, Price: acct.Agg.Price, Conf: acct.Agg.Conf, NumQt: numa}
	}

	iprice := make([]Decimal, numa)
	uprice := make([]Decimal, numa)
	lprice := make([]Decimal, numa)
	weight := make([]Decimal, numa)

	wsum := Decimal{}
	ldiff := int64(math.MaxInt64)
	var prevPrice int64
	for i := uint32(0); i != numa; i++ {
		c := &acct.Components[aidx[i]]
		slotDiff := int64(slot) - int64(c.Agg.PubSlot)
		decay := Decimal{V: decayTable[slotDiff], E: expDecay}
		conf := Mul(NewDecimal(int64(c.Agg.Conf), acct.Exponent), decay)

		price := NewDecimal(c.Agg.Price, acct.Exponent)
		iprice[i] = price
		uprice[i] = Add(price, conf)
		lprice[i] = Sub(price, conf)
		weight[i] = conf

		if i > 0 {
			idiff := c.Agg.Price - prevPrice
			gap := idiff
			if ldiff < gap {
				gap = ldiff
			}
			weight[i-1] = Add(weight[i-1], NewDecimal(gap, acct.Exponent))
			weight[i-1] = Div(emaOne, weight[i-1])
			wsum = Add(wsum, weight[i-1])
			ldiff = idiff
		}
		prevPrice = c.Agg.Price
	}
	weight[numa-1] = Add(weight[numa-1], NewDecimal(ldiff, acct.Exponent))
	weight[numa-1] = Div(emaOne, weight[numa-1])
	wsum = Add(wsum, weight[numa-1])

	// cap each weight at 1/sqrt(numa), redistributing the slack
	// proportionally among the uncapped publishers.
	wmax := Div(emaOne, Sqrt(NewDecimal(int64(numa), 0)))
	rnumer := emaOne
	rdenom := Decimal{}
	capped := make([]bool, numa)
	for i := uint32(0); i != numa; i++ {
		weight[i] = Div(weight[i], wsum)
		if Greater(weight[i], wmax) {
			weight[i] = wmax
			rnumer = Sub(rnumer, wmax)
			capped[i] = true
		} else {
			rdenom = Add(rdenom, weight[i])
		}
	}
	if rdenom.V != 0 {
		rnumer = Div(rnumer, rdenom)
	}
	for i := uint32(0); i != numa; i++ {
		if !capped[i] {
			weight[i] = Mul(weight[i], rnumer)
		}
	}

	ptile := half
	price := wgtPtile(iprice, weight, ptile)
	price = price.Rescale(acct.Exponent)
	acct.Agg.Price = price.V

	sortedPrices := make([]Decimal, numa)
	sortedWeights := make([]Decimal, numa)
	for i := uint32(0); i < numa; i++ {
		insertSorted(sortedPrices, sortedWeights, int(i), uprice[i], weight[i])
	}
	upperMed := wgtPtile(sortedPrices, sortedWeights, ptile)
	for i := uint32(0); i < numa; i++ {
		insertSorted(sortedPrices, sortedWeights, int(i), lprice[i], weight[i])
	}
	lowerMed := wgtPtile(sortedPrices, sortedWeights, ptile)
	spread := Mul(Sub(upperMed, lowerMed), half)

	q3 := wgtPtile(iprice, weight, q3p)
	q1 := wgtPtile(iprice, weight, q1p)
	iqr := Mul(Sub(q3, q1), half)

	conf := spread
	if Greater(iqr, spread) {
		conf = iqr
	}
	conf = conf.Rescale(acct.Exponent)
	acct.Agg.Conf = uint64(conf.V)

	UpdateTWAP(acct, aggDiff)
	return Result{Status: schema.PriceStatusTrading, Price: acct.Agg.Price, Conf: acct.Agg.Conf, NumQt: numa}
}

// wgtPtile returns the price at weighted percentile ptile (0..1) of
// prices/weights, linearly interpolating between the two bracketing
// cumulative half-weights. Ported from upd_aggregate.h's wgt_ptile.
func wgtPtile(prices, weights []Decimal, ptile Decimal) Decimal {
	num := len(prices)
	cumwgt := make([]Decimal, num)
	cumwgta := Decimal{}
	for i := 0; i < num; i++ {
		w := Mul(weights[i], half)
		cumwgt[i] = Add(cumwgta, w)
		cumwgta = Add(cumwgta, weights[i])
	}

	i := 0
	for i != num && Less(cumwgt[i], ptile) {
		i++
	}
	switch {
	case i == num:
		return prices[num-1]
	case i == 0:
		return prices[0]
	default:
		t1 := Sub(prices[i], prices[i-1])
		t2 := Sub(ptile, cumwgt[i-1])
		t1 = Mul(t1, t2)
		t2 = Sub(cumwgt[i], cumwgt[i-1])
		t1 = Div(t1, t2)
		return Add(prices[i-1], t1)
	}
}
