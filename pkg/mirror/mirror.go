// Package mirror bootstraps and steady-state maintains a live copy of the
// oracle's product/price-account graph: an initial walk of the mapping
// chain over HTTP, then account subscriptions that keep every mirrored
// price account current (spec §4.5).
package mirror

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/perrors"
	"github.com/pyth-network/pythd/pkg/rpcclient"
	"github.com/pyth-network/pythd/pkg/schema"
)

// PriceUpdate is delivered to every subscriber of a mirrored price account
// on each accepted (non-stale) update.
type PriceUpdate struct {
	Pub    keys.PublicKey
	Slot   uint64
	Price  *schema.PriceAccount
	Init   bool // true for the subscriber's first delivery (spec: on_response(price_init))
}

// PriceCallback is a subscriber's on_response(price[_init]) handler.
type PriceCallback func(PriceUpdate)

// ProductUpdate is delivered once, at bootstrap, for each mirrored product.
type ProductUpdate struct {
	Pub     keys.PublicKey
	Product *schema.ProductAccount
	Attrs   []Attr
}

// ProductCallback is a subscriber's on_response(product) handler.
type ProductCallback func(ProductUpdate)

// InflightClearer lets the publish pipeline learn when a price update it
// submitted has been observed in the mirror, so it can retire the matching
// in-flight signature (spec §4.5 step 5).
type InflightClearer interface {
	ClearInflight(pub keys.PublicKey, pubSlot uint64)
}

// PublisherStats tracks per-publisher delivery health within one mirrored
// price account: how many updates have been received and the distribution
// of slot_diff at receipt, the inputs to a hit-rate computation.
type PublisherStats struct {
	NumRecv      uint64
	SlotDiffHist map[int64]uint64
}

func newPublisherStats() *PublisherStats {
	return &PublisherStats{SlotDiffHist: make(map[int64]uint64)}
}

func (s *PublisherStats) record(slotDiff int64) {
	s.NumRecv++
	s.SlotDiffHist[slotDiff]++
}

type priceEntry struct {
	account   *schema.PriceAccount
	seenSlot  uint64
	subs      map[int]PriceCallback
	nextSubID int
	pubStats  map[keys.PublicKey]*PublisherStats
}

func newPriceEntry(acct *schema.PriceAccount) *priceEntry {
	return &priceEntry{
		account:  acct,
		subs:     make(map[int]PriceCallback),
		pubStats: make(map[keys.PublicKey]*PublisherStats),
	}
}

type productEntry struct {
	account *schema.ProductAccount
	attrs   []Attr
}

// PriceSubscription is a live registration against one mirrored price
// account. Calling Close removes it, mirroring the teacher's
// explicit-subscription-set-freed-on-destruction contract (spec §4.5)
// without relying on a finalizer.
type PriceSubscription struct {
	m    *Mirror
	pub  keys.PublicKey
	id   int
}

// Close removes this subscription from the mirror.
func (s *PriceSubscription) Close() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if e, ok := s.m.prices[s.pub]; ok {
		delete(e.subs, s.id)
	}
}

// Mirror owns the bootstrapped and live-updated product/price graph for
// one mapping root.
type Mirror struct {
	log        *zap.Logger
	rpc        *rpcclient.Client
	commitment string
	attrs      *AttrTable

	mu       sync.Mutex
	products map[keys.PublicKey]*productEntry
	prices   map[keys.PublicKey]*priceEntry
	clearer  InflightClearer
}

// New constructs an empty Mirror against an already-dialed RPC client.
func New(rpc *rpcclient.Client, commitment string, log *zap.Logger) *Mirror {
	return &Mirror{
		log:        log,
		rpc:        rpc,
		commitment: commitment,
		attrs:      NewAttrTable(),
		products:   make(map[keys.PublicKey]*productEntry),
		prices:     make(map[keys.PublicKey]*priceEntry),
	}
}

// SetInflightClearer registers the publish pipeline's inflight-signature
// clearing callback.
func (m *Mirror) SetInflightClearer(c InflightClearer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearer = c
}

// Bootstrap walks mappingKey's page chain, then every product's attribute
// dictionary and price-account chain, subscribing to each mirrored price
// account as it's discovered (spec §4.5).
func Bootstrap(ctx context.Context, rpc *rpcclient.Client, mappingKey keys.PublicKey, commitment string, log *zap.Logger) (*Mirror, error) {
	m := New(rpc, commitment, log)
	if err := m.bootstrapMapping(ctx, mappingKey); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mirror) bootstrapMapping(ctx context.Context, mappingKey keys.PublicKey) error {
	next := mappingKey
	for !next.IsZero() {
		raw, _, err := m.fetchAccountData(ctx, next)
		if err != nil {
			return fmt.Errorf("mirror: bootstrap mapping %s: %w", next, err)
		}
		var page schema.MappingAccount
		if err := page.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("mirror: decode mapping %s: %w", next, err)
		}
		n := int(page.Num)
		if n > len(page.Products) {
			n = len(page.Products)
		}
		for i := 0; i < n; i++ {
			if err := m.bootstrapProduct(ctx, page.Products[i]); err != nil {
				m.log.Warn("mirror: bootstrap product failed",
					zap.Stringer("product", page.Products[i]), zap.Error(err))
			}
		}
		next = page.Next
	}
	return nil
}

func (m *Mirror) bootstrapProduct(ctx context.Context, pub keys.PublicKey) error {
	raw, _, err := m.fetchAccountData(ctx, pub)
	if err != nil {
		return fmt.Errorf("fetch product: %w", err)
	}
	var prod schema.ProductAccount
	if err := prod.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}
	pairs, err := prod.AttributePairs()
	if err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}

	m.mu.Lock()
	m.products[pub] = &productEntry{account: &prod, attrs: m.attrs.InternPairs(pairs)}
	m.mu.Unlock()

	next := prod.FirstPrice
	for !next.IsZero() {
		praw, _, err := m.fetchAccountData(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch price %s: %w", next, err)
		}
		var price schema.PriceAccount
		if err := price.UnmarshalBinary(praw); err != nil {
			return fmt.Errorf("decode price %s: %w", next, err)
		}

		m.mu.Lock()
		m.prices[next] = newPriceEntry(&price)
		m.mu.Unlock()

		if err := m.subscribePriceAccount(ctx, next); err != nil {
			m.log.Warn("mirror: subscribe price failed", zap.Stringer("price", next), zap.Error(err))
		}
		next = price.Next
	}
	return nil
}

// subscribePriceAccount opens an accountSubscribe for pub and routes every
// notification through handleNotification.
func (m *Mirror) subscribePriceAccount(ctx context.Context, pub keys.PublicKey) error {
	_, err := m.rpc.Subscribe(ctx, "account", func(body jsonv.Node) bool {
		m.handleNotification(pub, body)
		return false
	}, pub.String(), map[string]interface{}{
		"encoding":   "base64",
		"commitment": m.commitment,
	})
	if err != nil {
		return fmt.Errorf("mirror: %w", perrors.Wrap("transport", err))
	}
	return nil
}

func (m *Mirror) handleNotification(pub keys.PublicKey, body jsonv.Node) {
	valueNode, ok := body.FindVal("value")
	if !ok {
		return
	}
	dataNode, ok := valueNode.FindVal("data")
	if !ok {
		return
	}
	b64Node, ok := dataNode.Index(0)
	if !ok {
		return
	}
	b64, err := b64Node.GetText()
	if err != nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		m.log.Warn("mirror: malformed account notification", zap.Error(err))
		return
	}

	var slot uint64
	if ctxNode, ok := body.FindVal("context"); ok {
		if slotNode, ok := ctxNode.FindVal("slot"); ok {
			if v, err := slotNode.GetUint(); err == nil {
				slot = v
			}
		}
	}

	var acct schema.PriceAccount
	if err := acct.UnmarshalBinary(raw); err != nil {
		m.log.Warn("mirror: malformed price account", zap.Stringer("price", pub), zap.Error(err))
		return
	}
	m.applyPriceUpdate(pub, slot, &acct)
}

// applyPriceUpdate runs the steady-state pipeline (spec §4.5): reject
// stale slots, overwrite the snapshot, update per-publisher stats, fan out
// to subscribers, clear any matching in-flight signature.
func (m *Mirror) applyPriceUpdate(pub keys.PublicKey, slot uint64, acct *schema.PriceAccount) {
	m.mu.Lock()
	e, ok := m.prices[pub]
	if !ok {
		e = newPriceEntry(acct)
		m.prices[pub] = e
	}
	if acct.Agg.PubSlot < e.seenSlot {
		m.mu.Unlock()
		return
	}
	e.seenSlot = acct.Agg.PubSlot
	e.account = acct

	for i := 0; i < int(acct.Num) && i < len(acct.Components); i++ {
		c := acct.Components[i]
		stats, ok := e.pubStats[c.Publisher]
		if !ok {
			stats = newPublisherStats()
			e.pubStats[c.Publisher] = stats
		}
		slotDiff := int64(slot) - int64(c.Latest.PubSlot)
		stats.record(slotDiff)
	}

	callbacks := make([]PriceCallback, 0, len(e.subs))
	for _, cb := range e.subs {
		callbacks = append(callbacks, cb)
	}
	clearer := m.clearer
	m.mu.Unlock()

	update := PriceUpdate{Pub: pub, Slot: slot, Price: acct}
	for _, cb := range callbacks {
		cb(update)
	}

	if clearer != nil && schema.PriceStatus(acct.Agg.Status) == schema.PriceStatusTrading {
		clearer.ClearInflight(pub, acct.Agg.PubSlot)
	}
}

// SubscribePrice registers cb against pub's mirrored price account,
// delivering the current snapshot immediately (on_response(price_init))
// if one is already cached.
func (m *Mirror) SubscribePrice(pub keys.PublicKey, cb PriceCallback) *PriceSubscription {
	m.mu.Lock()
	e, ok := m.prices[pub]
	if !ok {
		e = newPriceEntry(nil)
		m.prices[pub] = e
	}
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = cb
	current := e.account
	m.mu.Unlock()

	if current != nil {
		cb(PriceUpdate{Pub: pub, Slot: current.Agg.PubSlot, Price: current, Init: true})
	}
	return &PriceSubscription{m: m, pub: pub, id: id}
}

// Price returns the cached snapshot of pub's price account, if mirrored.
func (m *Mirror) Price(pub keys.PublicKey) (*schema.PriceAccount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.prices[pub]
	if !ok || e.account == nil {
		return nil, false
	}
	return e.account, true
}

// PublisherStats returns publisher pub's delivery stats within price
// account priceAcct, if any updates have been observed.
func (m *Mirror) PublisherStats(priceAcct, pub keys.PublicKey) (PublisherStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.prices[priceAcct]
	if !ok {
		return PublisherStats{}, false
	}
	s, ok := e.pubStats[pub]
	if !ok {
		return PublisherStats{}, false
	}
	return *s, true
}

// Product returns the cached product account and its interned attributes.
func (m *Mirror) Product(pub keys.PublicKey) (*schema.ProductAccount, []Attr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.products[pub]
	if !ok {
		return nil, nil, false
	}
	return e.account, e.attrs, true
}

// AttrName resolves an interned attribute key id back to its string.
func (m *Mirror) AttrName(id uint32) (string, bool) {
	return m.attrs.Name(id)
}

// Products returns the public keys of every product account mirrored so
// far, in no particular order; used to serve the local publisher
// protocol's get_product_list.
func (m *Mirror) Products() []keys.PublicKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]keys.PublicKey, 0, len(m.products))
	for pub := range m.products {
		out = append(out, pub)
	}
	return out
}

func (m *Mirror) fetchAccountData(ctx context.Context, pub keys.PublicKey) ([]byte, uint64, error) {
	var res struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Data [2]string `json:"data"`
		} `json:"value"`
	}
	err := m.rpc.CallContext(ctx, &res, "getAccountInfo", pub.String(), map[string]interface{}{
		"encoding":   "base64",
		"commitment": m.commitment,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("getAccountInfo: %w", perrors.Wrap("transport", err))
	}
	if res.Value == nil {
		return nil, 0, fmt.Errorf("account %s: %w", pub, perrors.ErrNotFound)
	}
	raw, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, 0, fmt.Errorf("decode account data: %w", perrors.Wrap("protocol", err))
	}
	return raw, res.Context.Slot, nil
}
