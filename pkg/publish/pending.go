package publish

import (
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/schema"
)

// pendingState is a symbol's position in the idle → pending → inflight → idle
// state machine (spec §4.6).
type pendingState uint8

const (
	stateIdle pendingState = iota
	statePending
	stateInflight
)

// Pending is the daemon-local publish state for one price account: the
// client's most recent quote, its flight status, and the lifetime stats a
// local client can query.
type Pending struct {
	state pendingState

	price  int64
	conf   uint64
	status schema.PriceStatus

	noSend bool // update_no_send: cache only, never flushed

	inflightSig    keys.Signature
	hasInflightSig bool
	inflightSlot   uint64

	sentSlot uint64
	recvSlot uint64

	numSent uint64
	numRecv uint64
	numAgg  uint64
	numDrop uint64

	slotLatencyHist map[int64]uint64
}

func newPending() *Pending {
	return &Pending{slotLatencyHist: make(map[int64]uint64)}
}

// UpdatePrice records a new quote for this symbol. If the symbol is
// currently inflight, the previous signature is left in place (its
// acknowledgement still retires that batch) but the pending value is
// overwritten and num_sub_drop is incremented — "inflight does not block
// new sends to preserve freshness" (spec §4.6).
func (p *Pending) UpdatePrice(price int64, conf uint64, status schema.PriceStatus, send bool) {
	if p.state == stateInflight {
		p.numDrop++
	}
	p.price = price
	p.conf = conf
	p.status = status
	p.noSend = !send
	if send {
		p.state = statePending
	}
}

// Dirty reports whether this symbol has a quote awaiting flush.
func (p *Pending) Dirty() bool {
	return p.state == statePending && !p.noSend
}

// markInflight transitions pending→inflight, recording the batch's
// signature and the slot it was submitted at.
func (p *Pending) markInflight(sig keys.Signature, slot uint64) {
	p.state = stateInflight
	p.hasInflightSig = true
	p.inflightSig = sig
	p.inflightSlot = slot
	p.sentSlot = slot
	p.numSent++
}

// observe folds a mirrored aggregate update into this symbol's stats,
// clearing the inflight signature once the mirror has caught up to the
// slot it was submitted at (spec §4.6's "symbol whose mirror has already
// seen the corresponding pub_slot is counted in num_recv").
func (p *Pending) observe(pubSlot, observedSlot uint64) {
	p.numAgg++
	if p.state == stateInflight && pubSlot >= p.inflightSlot {
		p.recvSlot = observedSlot
		p.numRecv++
		p.slotLatencyHist[int64(observedSlot)-int64(p.inflightSlot)]++
		p.state = stateIdle
		p.hasInflightSig = false
	}
}

// retireLost marks this symbol's inflight batch as lost (the signature
// subscription failed or reported an error):
// num_sub_drop is incremented and the symbol returns to idle without a
// retry (spec §4.6).
func (p *Pending) retireLost() {
	if p.state == stateInflight {
		p.numDrop++
		p.state = stateIdle
		p.hasInflightSig = false
	}
}

// Stats is the externally-visible snapshot of a symbol's publish health.
type Stats struct {
	NumSent         uint64
	NumRecv         uint64
	NumAgg          uint64
	NumSubDrop      uint64
	SlotLatencyHist map[int64]uint64
}

// Stats snapshots p's counters.
func (p *Pending) Stats() Stats {
	hist := make(map[int64]uint64, len(p.slotLatencyHist))
	for k, v := range p.slotLatencyHist {
		hist[k] = v
	}
	return Stats{
		NumSent:         p.numSent,
		NumRecv:         p.numRecv,
		NumAgg:          p.numAgg,
		NumSubDrop:      p.numDrop,
		SlotLatencyHist: hist,
	}
}
