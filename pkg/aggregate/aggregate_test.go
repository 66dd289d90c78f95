package aggregate

import (
	"testing"

	"github.com/pyth-network/pythd/pkg/schema"
)

func quote(price, conf int64, pubSlot uint64) schema.PriceComponent {
	return schema.PriceComponent{
		Latest: schema.PriceInfo{
			Price:   price,
			Conf:    uint64(conf),
			Status:  uint32(schema.PriceStatusTrading),
			PubSlot: pubSlot,
		},
	}
}

func newAccount(minPub uint8, comps ...schema.PriceComponent) *schema.PriceAccount {
	acct := &schema.PriceAccount{MinPub: minPub, Num: uint32(len(comps))}
	copy(acct.Components[:], comps)
	return acct
}

func TestAggregateSinglePublisherWidensConfidence(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000))
	res := Aggregate(acct, 1001)

	if res.Status != schema.PriceStatusTrading || res.Price != 100 || res.Conf != 50 {
		t.Fatalf("got %+v, want price=100 conf=50 trading", res)
	}
	if acct.Twap.Val != 100 || acct.Twac.Val != 50 {
		t.Fatalf("twap=%d twac=%d, want 100/50", acct.Twap.Val, acct.Twac.Val)
	}
}

func TestAggregateTwoPublishers(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000), quote(200, 20, 1000))
	res := Aggregate(acct, 1001)
	if res.Price != 147 || res.Conf != 48 {
		t.Fatalf("got price=%d conf=%d, want 147/48", res.Price, res.Conf)
	}

	res2 := Aggregate(acct, 1002)
	if res2.Status != schema.PriceStatusTrading {
		t.Fatalf("second aggregate status = %v, want trading", res2.Status)
	}
	if acct.Twap.Val != 123 || acct.Twac.Val != 48 {
		t.Fatalf("twap=%d twac=%d, want 123/48", acct.Twap.Val, acct.Twac.Val)
	}
}

func TestAggregateThreePublishers(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000), quote(200, 20, 1000), quote(300, 30, 1000))
	res := Aggregate(acct, 1001)
	if res.Price != 191 || res.Conf != 74 {
		t.Fatalf("got price=%d conf=%d, want 191/74", res.Price, res.Conf)
	}
	Aggregate(acct, 1002)
	if acct.Twap.Val != 146 || acct.Twac.Val != 57 {
		t.Fatalf("twap=%d twac=%d, want 146/57", acct.Twap.Val, acct.Twac.Val)
	}
}

func TestAggregateFourPublishers(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000), quote(200, 20, 1000), quote(300, 30, 1000), quote(400, 40, 1000))
	res := Aggregate(acct, 1001)
	if res.Price != 235 || res.Conf != 99 {
		t.Fatalf("got price=%d conf=%d, want 235/99", res.Price, res.Conf)
	}
	Aggregate(acct, 1002)
	if acct.Twap.Val != 168 || acct.Twac.Val != 67 {
		t.Fatalf("twap=%d twac=%d, want 168/67", acct.Twap.Val, acct.Twac.Val)
	}
}

func TestAggregateGoesUnknownAfterStaleWindowElapses(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000), quote(200, 20, 1000), quote(300, 30, 1000), quote(400, 40, 1000))
	acct.LastSlot = 1025
	acct.Agg.PubSlot = 1025

	res := Aggregate(acct, 1026)
	if res.Status != schema.PriceStatusUnknown {
		t.Fatalf("status = %v, want unknown", res.Status)
	}
	if acct.LastSlot != 1025 {
		t.Fatalf("last_slot = %d, want unchanged at 1025", acct.LastSlot)
	}
}

func TestAggregateSkipsWhenSlotNotAdvanced(t *testing.T) {
	acct := newAccount(1, quote(100, 10, 1000))
	acct.Agg.PubSlot = 2000
	acct.Agg.Price = 55
	acct.Agg.Conf = 5

	res := Aggregate(acct, 1999)
	if res.Price != 55 || res.Conf != 5 {
		t.Fatalf("stale-slot call mutated aggregate: %+v", res)
	}
}

func TestAggregateRejectsOutlierAndKeepsQuorum(t *testing.T) {
	// Three valid quotes clustered near 100, one wild outlier far outside
	// the [m/5, 5m] band must be dropped while the rest still aggregate.
	acct := newAccount(1,
		quote(100, 5, 1000),
		quote(101, 5, 1000),
		quote(99, 5, 1000),
		quote(100000, 5, 1000),
	)
	res := Aggregate(acct, 1001)
	if res.Status != schema.PriceStatusTrading {
		t.Fatalf("status = %v, want trading", res.Status)
	}
	if res.NumQt != 3 {
		t.Fatalf("num_qt = %d, want 3 (outlier dropped)", res.NumQt)
	}
	if res.Price < 90 || res.Price > 110 {
		t.Fatalf("price = %d, want near 100 with outlier excluded", res.Price)
	}
}

func TestAggregateUnknownBelowMinPublishers(t *testing.T) {
	acct := newAccount(3, quote(100, 10, 1000), quote(200, 20, 1000))
	res := Aggregate(acct, 1001)
	if res.Status != schema.PriceStatusUnknown {
		t.Fatalf("status = %v, want unknown (below min_pub)", res.Status)
	}
}

func TestAggregateIgnoresInvalidComponents(t *testing.T) {
	bad1 := quote(100, 10, 1000)
	bad1.Latest.Status = uint32(schema.PriceStatusHalted)
	bad2 := quote(-50, 10, 1000) // negative price, invalid
	bad3 := quote(100, 0, 1000)  // zero confidence, invalid
	good := quote(100, 10, 1000)

	acct := newAccount(1, bad1, bad2, bad3, good)
	res := Aggregate(acct, 1001)
	if res.NumQt != 1 {
		t.Fatalf("num_qt = %d, want 1 (only the single valid quote)", res.NumQt)
	}
}
