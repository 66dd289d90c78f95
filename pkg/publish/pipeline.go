package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/mirror"
	"github.com/pyth-network/pythd/pkg/perrors"
	"github.com/pyth-network/pythd/pkg/rpcclient"
	"github.com/pyth-network/pythd/pkg/schema"
)

// DefaultMaxBatch is spec §4.6's hard bound of 8 symbols per transaction,
// safe for the historical chain's packet-size limit.
const DefaultMaxBatch = 8

// Forwarder is the tx-forwarder's client-facing send method; satisfied by
// pkg/txservice's Forwarder and Client. When nil, the pipeline submits
// transactions via sendTransaction on the RPC client instead.
type Forwarder interface {
	Send(tx []byte) error
}

// Config controls batching and compute-budget instruction emission.
type Config struct {
	MaxBatchSize int
	CUUnits      uint32 // 0 disables the set_compute_unit_limit instruction
	CUPrice      uint64 // 0 disables the set_compute_unit_price instruction
	Version      uint32
	Program      keys.PublicKey // oracle program id, accounts[1]'s owner
}

// Pipeline owns the idle→pending→inflight→idle state for every symbol the
// daemon publishes and flushes dirty symbols into batched transactions on
// every new slot (spec §4.6).
type Pipeline struct {
	cfg    Config
	signer keys.KeyPair
	rpc    pipelineRPC
	fwd    Forwarder
	log    *zap.Logger

	mu      sync.Mutex
	pending map[keys.PublicKey]*Pending

	metrics *metrics
}

// pipelineRPC is the subset of *rpcclient.Client the pipeline depends on,
// narrowed to an interface so tests can substitute a fake.
type pipelineRPC interface {
	CallContext(ctx context.Context, dst interface{}, method string, params ...interface{}) error
	Subscribe(ctx context.Context, method string, notify func(jsonv.Node) bool, params ...interface{}) (*rpcclient.Subscription, error)
}

type metrics struct {
	sent     prometheus.Counter
	recv     prometheus.Counter
	subDrop  prometheus.Counter
	latency  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pythd_publish_sent_total",
			Help: "Batched upd_price transactions submitted.",
		}),
		recv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pythd_publish_recv_total",
			Help: "Symbol updates observed aggregated in the mirror.",
		}),
		subDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pythd_publish_sub_drop_total",
			Help: "Symbol updates dropped (stale inflight, lost signature, submission failure).",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pythd_publish_slot_latency",
			Help:    "Slots between submission and observed aggregation.",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sent, m.recv, m.subDrop, m.latency)
	}
	return m
}

// New constructs a Pipeline. reg may be nil to skip metrics registration
// (e.g. in tests).
func New(cfg Config, signer keys.KeyPair, rpc pipelineRPC, fwd Forwarder, reg prometheus.Registerer, log *zap.Logger) *Pipeline {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatch
	}
	return &Pipeline{
		cfg:     cfg,
		signer:  signer,
		rpc:     rpc,
		fwd:     fwd,
		log:     log,
		pending: make(map[keys.PublicKey]*Pending),
		metrics: newMetrics(reg),
	}
}

// UpdatePrice applies a client's update_price (send=true) or
// update_no_send (send=false) to priceAccount's pending state, creating it
// on first use (spec §3: "created the first time a local client updates a
// symbol").
func (p *Pipeline) UpdatePrice(priceAccount keys.PublicKey, price int64, conf uint64, status schema.PriceStatus, send bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend, ok := p.pending[priceAccount]
	if !ok {
		pend = newPending()
		p.pending[priceAccount] = pend
	}
	pend.UpdatePrice(price, conf, status, send)
}

// Stats returns the current publish stats for priceAccount.
func (p *Pipeline) Stats(priceAccount keys.PublicKey) (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend, ok := p.pending[priceAccount]
	if !ok {
		return Stats{}, false
	}
	return pend.Stats(), true
}

// ClearInflight implements mirror.InflightClearer: when the mirror observes
// a trading aggregate for priceAccount, fold it into that symbol's stats
// and clear a matching inflight signature.
func (p *Pipeline) ClearInflight(priceAccount keys.PublicKey, pubSlot uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pend, ok := p.pending[priceAccount]
	if !ok {
		return
	}
	pend.observe(pubSlot, pubSlot)
	p.metrics.recv.Inc()
}

var _ mirror.InflightClearer = (*Pipeline)(nil)

// Flush scans for dirty symbols, batches up to MaxBatchSize of them per
// transaction, and dispatches each batch (spec §4.6).
func (p *Pipeline) Flush(ctx context.Context, slot uint64) error {
	p.mu.Lock()
	var dirty []keys.PublicKey
	for pub, pend := range p.pending {
		if pend.Dirty() {
			dirty = append(dirty, pub)
		}
	}
	p.mu.Unlock()
	if len(dirty) == 0 {
		return nil
	}

	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := p.rpc.CallContext(ctx, &res, "getLatestBlockhash"); err != nil {
		// "recent-block-hash request failure -> flush is skipped this
		// tick; next tick re-requests" (spec §4.6).
		if p.log != nil {
			p.log.Warn("publish: getLatestBlockhash failed, skipping flush", zap.Error(err))
		}
		return nil
	}
	blockhash, err := keys.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return fmt.Errorf("publish: decode blockhash: %w", perrors.Wrap("protocol", err))
	}

	for i := 0; i < len(dirty); i += p.cfg.MaxBatchSize {
		end := i + p.cfg.MaxBatchSize
		if end > len(dirty) {
			end = len(dirty)
		}
		if err := p.flushBatch(ctx, dirty[i:end], slot, blockhash); err != nil && p.log != nil {
			p.log.Warn("publish: batch flush failed", zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) flushBatch(ctx context.Context, symbols []keys.PublicKey, slot uint64, blockhash keys.Hash) error {
	var instructions []rawInstruction
	if p.cfg.CUUnits != 0 {
		instructions = append(instructions, computeUnitLimitInstruction(p.cfg.CUUnits))
	}
	if p.cfg.CUPrice != 0 {
		instructions = append(instructions, computeUnitPriceInstruction(p.cfg.CUPrice))
	}

	publisher := p.signer.PublicKey()
	p.mu.Lock()
	snapshot := make(map[keys.PublicKey]*Pending, len(symbols))
	for _, sym := range symbols {
		pend := p.pending[sym]
		instructions = append(instructions, updPriceInstruction(
			p.cfg.Program, publisher, sym, p.cfg.Version, pend.status, pend.price, pend.conf, slot))
		snapshot[sym] = pend
	}
	p.mu.Unlock()

	tx, err := buildTransaction(p.signer, blockhash, instructions)
	if err != nil {
		return fmt.Errorf("publish: build transaction: %w", err)
	}

	// A failed submission retires the batch straight from pending: each
	// symbol counts one num_sub_drop and returns to idle without a retry.
	dropUnsent := func() {
		p.mu.Lock()
		for _, pend := range snapshot {
			pend.numDrop++
			pend.state = stateIdle
			p.metrics.subDrop.Inc()
		}
		p.mu.Unlock()
	}

	var sig keys.Signature
	if p.fwd != nil {
		if err := p.fwd.Send(tx); err != nil {
			dropUnsent()
			return fmt.Errorf("publish: forward transaction: %w", perrors.Wrap("transport", err))
		}
		// The forwarder fans the transaction out over UDP with no
		// response; the mirror's own aggregate update is the only
		// acknowledgement, so there is no signature to subscribe to.
	} else {
		var res string
		if err := p.rpc.CallContext(ctx, &res, "sendTransaction", base64.StdEncoding.EncodeToString(tx)); err != nil {
			dropUnsent()
			return fmt.Errorf("publish: sendTransaction: %w", perrors.Wrap("application", err))
		}
		if decodedBytes, err := base58.Decode(res); err == nil {
			if decoded, err := keys.SignatureFromBytes(decodedBytes); err == nil {
				sig = decoded
			}
		}
	}

	p.mu.Lock()
	for _, sym := range symbols {
		snapshot[sym].markInflight(sig, slot)
	}
	p.mu.Unlock()
	p.metrics.sent.Inc()
	if p.fwd == nil {
		p.subscribeSignature(ctx, sig, symbols)
	}
	return nil
}

func (p *Pipeline) dropBatch(symbols []keys.PublicKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		if pend, ok := p.pending[sym]; ok {
			pend.retireLost()
			p.metrics.subDrop.Inc()
		}
	}
}

// subscribeSignature subscribes once (coalesced per batch) to the
// submitted signature's acknowledgement; a subscription error retires the
// whole batch as lost (spec §4.6).
func (p *Pipeline) subscribeSignature(ctx context.Context, sig keys.Signature, symbols []keys.PublicKey) {
	_, err := p.rpc.Subscribe(ctx, "signature", func(body jsonv.Node) bool {
		if errNode, ok := body.FindVal("err"); ok {
			if errNode.IsNull() {
				return true
			}
			p.dropBatch(symbols)
			return true
		}
		return true
	}, sig.String())
	if err != nil {
		p.dropBatch(symbols)
	}
}
