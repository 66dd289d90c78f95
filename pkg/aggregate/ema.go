package aggregate

import "github.com/pyth-network/pythd/pkg/schema"

// Constants from pd.h: the rational decay approximation for a half-life
// of 5921 slots (PD_EMA_DECAY = 1e9 * -ln(2) / 5921), its storage
// exponent, and the slot gap beyond which the average resets instead of
// decaying.
const (
	emaMaxDiff = 4145
	emaExpo    = -9
	emaDecay   = -117065
)

var emaOne = Decimal{V: 100_000_000, E: -8}

// UpdateEMA folds val (weighted by 1/conf) into ema's running rational
// average and returns the new decimal value at exponent expo. Ported from
// upd_aggregate.h's upd_ema, with the pc_price_t.drv1_ on-chain format
// migration path dropped: ema.Numer/Denom are always stored as plain
// fixed-point values at emaExpo, never the packed legacy encoding.
func UpdateEMA(ema *schema.Ema, val, conf Decimal, nslot int64, expo int32) Decimal {
	var cwgt Decimal
	if conf.V != 0 {
		cwgt = Div(emaOne, conf)
	} else {
		cwgt = emaOne
	}

	var numer, denom Decimal
	if nslot > emaMaxDiff {
		// more than PD_EMA_MAX_DIFF slots since the last update: reset to
		// the initial condition rather than decaying a stale average.
		numer = Mul(val, cwgt)
		denom = cwgt
	} else {
		diff := Decimal{V: nslot, E: 0}
		decay := Mul(Decimal{V: emaDecay, E: emaExpo}, diff)
		decay = Add(decay, emaOne)

		numer = Decimal{V: ema.Numer, E: emaExpo}
		denom = Decimal{V: ema.Denom, E: emaExpo}
		if numer.V < 0 || denom.V < 0 {
			numer = val
			denom = emaOne
		} else {
			numer = Mul(numer, decay)
			numer = Add(numer, Mul(val, cwgt))
			denom = Mul(denom, decay)
			denom = Add(denom, cwgt)
			val = Div(numer, denom)
		}
	}

	val = val.Rescale(expo)
	ema.Val = val.V
	ema.Numer = numer.Rescale(emaExpo).V
	ema.Denom = denom.Rescale(emaExpo).V
	return val
}

// UpdateTWAP folds the just-published aggregate price/confidence into the
// account's TWAP and TWAC, per upd_aggregate.h's upd_twap.
func UpdateTWAP(p *schema.PriceAccount, nslots int64) {
	px := NewDecimal(p.Agg.Price, p.Exponent)
	conf := NewDecimal(int64(p.Agg.Conf), p.Exponent)
	UpdateEMA(&p.Twap, px, conf, nslots, p.Exponent)
	UpdateEMA(&p.Twac, conf, conf, nslots, p.Exponent)
}
