package mirror

import (
	"testing"

	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/schema"
)

func testPub(t *testing.T, b byte) keys.PublicKey {
	t.Helper()
	var pk keys.PublicKey
	pk[0] = b
	return pk
}

func TestAttrTableInternsInFirstSeenOrder(t *testing.T) {
	tbl := NewAttrTable()
	pairs := []schema.AttrPair{
		{Key: "symbol", Value: "BTC/USD"},
		{Key: "asset_type", Value: "Crypto"},
		{Key: "symbol", Value: "ETH/USD"},
	}
	out := tbl.InternPairs(pairs)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].KeyID != out[2].KeyID {
		t.Fatalf("repeated key %q interned twice: %d != %d", "symbol", out[0].KeyID, out[2].KeyID)
	}
	if out[0].KeyID == out[1].KeyID {
		t.Fatalf("distinct keys collided on id %d", out[0].KeyID)
	}
	if out[0].KeyID != 0 || out[1].KeyID != 1 {
		t.Fatalf("ids not assigned in first-seen order: %+v", out)
	}

	name, ok := tbl.Name(out[1].KeyID)
	if !ok || name != "asset_type" {
		t.Fatalf("Name(%d) = %q, %v; want asset_type, true", out[1].KeyID, name, ok)
	}
	if _, ok := tbl.Name(99); ok {
		t.Fatal("Name of unassigned id should report ok=false")
	}
}

func newTestAccount(status schema.PriceStatus, pubSlot uint64, price int64, conf uint64) *schema.PriceAccount {
	var a schema.PriceAccount
	a.Agg.Status = uint32(status)
	a.Agg.PubSlot = pubSlot
	a.Agg.Price = price
	a.Agg.Conf = conf
	return &a
}

func TestApplyPriceUpdateRejectsStaleSlot(t *testing.T) {
	m := New(nil, "confirmed", zap.NewNop())
	pub := testPub(t, 1)

	m.applyPriceUpdate(pub, 100, newTestAccount(schema.PriceStatusTrading, 100, 1000, 5))
	m.applyPriceUpdate(pub, 99, newTestAccount(schema.PriceStatusTrading, 90, 2000, 5))

	acct, ok := m.Price(pub)
	if !ok {
		t.Fatal("expected cached snapshot")
	}
	if acct.Agg.PubSlot != 100 || acct.Agg.Price != 1000 {
		t.Fatalf("stale update was applied: pubslot=%d price=%d", acct.Agg.PubSlot, acct.Agg.Price)
	}
}

func TestSubscribePriceDeliversInitAndLiveUpdates(t *testing.T) {
	m := New(nil, "confirmed", zap.NewNop())
	pub := testPub(t, 2)

	m.applyPriceUpdate(pub, 50, newTestAccount(schema.PriceStatusTrading, 50, 111, 1))

	var updates []PriceUpdate
	sub := m.SubscribePrice(pub, func(u PriceUpdate) {
		updates = append(updates, u)
	})
	defer sub.Close()

	if len(updates) != 1 || !updates[0].Init {
		t.Fatalf("expected one init delivery, got %+v", updates)
	}
	if updates[0].Price.Agg.Price != 111 {
		t.Fatalf("init snapshot price = %d, want 111", updates[0].Price.Agg.Price)
	}

	m.applyPriceUpdate(pub, 51, newTestAccount(schema.PriceStatusTrading, 51, 222, 2))
	if len(updates) != 2 || updates[1].Init {
		t.Fatalf("expected a second, non-init delivery, got %+v", updates)
	}
	if updates[1].Price.Agg.Price != 222 {
		t.Fatalf("live update price = %d, want 222", updates[1].Price.Agg.Price)
	}

	sub.Close()
	m.applyPriceUpdate(pub, 52, newTestAccount(schema.PriceStatusTrading, 52, 333, 3))
	if len(updates) != 2 {
		t.Fatalf("update delivered after Close: %+v", updates)
	}
}

func TestApplyPriceUpdateTracksPublisherStats(t *testing.T) {
	m := New(nil, "confirmed", zap.NewNop())
	priceAcct := testPub(t, 3)
	publisher := testPub(t, 9)

	acct := newTestAccount(schema.PriceStatusTrading, 200, 1000, 5)
	acct.Num = 1
	acct.Components[0] = schema.PriceComponent{
		Publisher: publisher,
		Latest:    schema.PriceInfo{Price: 1000, Conf: 5, PubSlot: 198},
	}
	m.applyPriceUpdate(priceAcct, 200, acct)

	stats, ok := m.PublisherStats(priceAcct, publisher)
	if !ok {
		t.Fatal("expected publisher stats to be recorded")
	}
	if stats.NumRecv != 1 {
		t.Fatalf("NumRecv = %d, want 1", stats.NumRecv)
	}
	if stats.SlotDiffHist[2] != 1 {
		t.Fatalf("SlotDiffHist[2] = %d, want 1 (slot 200 - pub_slot 198)", stats.SlotDiffHist[2])
	}
}

type fakeClearer struct {
	pub     keys.PublicKey
	pubSlot uint64
	calls   int
}

func (f *fakeClearer) ClearInflight(pub keys.PublicKey, pubSlot uint64) {
	f.pub = pub
	f.pubSlot = pubSlot
	f.calls++
}

func TestApplyPriceUpdateClearsInflightOnTrading(t *testing.T) {
	m := New(nil, "confirmed", zap.NewNop())
	pub := testPub(t, 4)
	clearer := &fakeClearer{}
	m.SetInflightClearer(clearer)

	m.applyPriceUpdate(pub, 10, newTestAccount(schema.PriceStatusUnknown, 10, 0, 0))
	if clearer.calls != 0 {
		t.Fatalf("clearer called on non-trading status: %d calls", clearer.calls)
	}

	m.applyPriceUpdate(pub, 11, newTestAccount(schema.PriceStatusTrading, 11, 1000, 5))
	if clearer.calls != 1 {
		t.Fatalf("clearer calls = %d, want 1", clearer.calls)
	}
	if clearer.pub != pub || clearer.pubSlot != 11 {
		t.Fatalf("clearer got (%v, %d), want (%v, 11)", clearer.pub, clearer.pubSlot, pub)
	}
}

func TestProductLookupReturnsInternedAttrs(t *testing.T) {
	m := New(nil, "confirmed", zap.NewNop())
	pub := testPub(t, 5)
	prod := &schema.ProductAccount{}
	m.mu.Lock()
	m.products[pub] = &productEntry{
		account: prod,
		attrs: m.attrs.InternPairs([]schema.AttrPair{
			{Key: "symbol", Value: "BTC/USD"},
		}),
	}
	m.mu.Unlock()

	got, attrs, ok := m.Product(pub)
	if !ok || got != prod {
		t.Fatalf("Product lookup failed: ok=%v got=%v", ok, got)
	}
	if len(attrs) != 1 || attrs[0].Value != "BTC/USD" {
		t.Fatalf("attrs = %+v", attrs)
	}
	name, ok := m.AttrName(attrs[0].KeyID)
	if !ok || name != "symbol" {
		t.Fatalf("AttrName(%d) = %q, %v", attrs[0].KeyID, name, ok)
	}
}
