package publish

import (
	"testing"

	"github.com/pyth-network/pythd/pkg/schema"
)

func TestPendingUpdatePriceMarksDirty(t *testing.T) {
	p := newPending()
	if p.Dirty() {
		t.Fatal("fresh Pending should not be dirty")
	}
	p.UpdatePrice(100, 5, schema.PriceStatusTrading, true)
	if !p.Dirty() {
		t.Fatal("expected Dirty() after update_price")
	}
}

func TestPendingUpdateNoSendNeverDirty(t *testing.T) {
	p := newPending()
	p.UpdatePrice(100, 5, schema.PriceStatusTrading, false)
	if p.Dirty() {
		t.Fatal("update_no_send must not mark the symbol dirty")
	}
}

func TestPendingInflightOverwriteIncrementsSubDrop(t *testing.T) {
	p := newPending()
	p.UpdatePrice(100, 5, schema.PriceStatusTrading, true)
	p.markInflight([64]byte{1}, 10)

	p.UpdatePrice(200, 6, schema.PriceStatusTrading, true)
	if p.numDrop != 1 {
		t.Fatalf("numDrop = %d, want 1", p.numDrop)
	}
	if p.price != 200 || p.conf != 6 {
		t.Fatalf("pending value not overwritten: price=%d conf=%d", p.price, p.conf)
	}
	if !p.hasInflightSig {
		t.Fatal("old inflight signature should remain set (spec: inflight doesn't block new sends)")
	}
}

func TestPendingObserveClearsInflightAndRecordsLatency(t *testing.T) {
	p := newPending()
	p.UpdatePrice(100, 5, schema.PriceStatusTrading, true)
	p.markInflight([64]byte{1}, 10)

	p.observe(9, 9) // pub_slot behind the inflight slot: not yet caught up
	if p.state != stateInflight {
		t.Fatal("observe with pub_slot < inflightSlot should not clear inflight")
	}

	p.observe(12, 12)
	if p.state != stateIdle {
		t.Fatal("observe with pub_slot >= inflightSlot should clear inflight")
	}
	if p.numRecv != 1 {
		t.Fatalf("numRecv = %d, want 1", p.numRecv)
	}
	if p.slotLatencyHist[2] != 1 {
		t.Fatalf("slotLatencyHist[2] = %d, want 1 (observed slot 12 - inflight slot 10)", p.slotLatencyHist[2])
	}
}

func TestPendingRetireLostOnlyAffectsInflight(t *testing.T) {
	p := newPending()
	p.retireLost()
	if p.numDrop != 0 {
		t.Fatal("retireLost on an idle symbol should be a no-op")
	}

	p.UpdatePrice(100, 5, schema.PriceStatusTrading, true)
	p.markInflight([64]byte{1}, 10)
	p.retireLost()
	if p.numDrop != 1 || p.state != stateIdle {
		t.Fatalf("retireLost did not retire inflight batch: numDrop=%d state=%v", p.numDrop, p.state)
	}
}
