// Package manager wires every other package into the running daemon: it
// owns the key store, the RPC client, the local listener, a tx-forwarder
// client, the capture writer, the account mirror, and the publish
// pipeline, and drives the slot-driven publish loop (spec §4.8).
package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/capture"
	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/mirror"
	"github.com/pyth-network/pythd/pkg/publish"
	"github.com/pyth-network/pythd/pkg/rpcclient"
	"github.com/pyth-network/pythd/pkg/txservice"
)

const defaultMaxBatchSize = publish.DefaultMaxBatch

// Manager owns every long-lived component of the daemon and advances them
// from a single caller goroutine (Run) plus the handful of
// background goroutines each component already documents owning
// (rpcclient's WS read loop, the local server's per-connection
// goroutines) — the single "event-loop thread" of spec §5 is realized
// here as one slot-subscription callback plus a fallback ticker, rather
// than a literal epoll loop, since Go's networking stack already
// supplies readiness via blocking reads on their own goroutines (see
// pkg/rpcclient.Client's doc comment). Broadcasting to the chain is
// delegated to a txservice.Client, a thin dialer of a separately running
// forwarder process (cmd/pythtxsvr) rather than logic Manager runs
// itself.
type Manager struct {
	cfg Config
	log *zap.Logger

	keyStore *keys.KeyStore
	program  keys.PublicKey

	rpc      *rpcclient.Client
	mirror   *mirror.Mirror
	pipeline *publish.Pipeline

	local    *LocalServer
	txClient *txservice.Client
	capture  *capture.Writer
	registry *prometheus.Registry

	curSlot uint64 // atomic

	fallbackTicker *time.Ticker
}

// New dials the RPC client, loads the key store, bootstraps the account
// mirror, and wires the publish pipeline, local server and (if
// configured) tx forwarder and capture writer. It does not start serving
// until Run is called.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Manager, error) {
	ks := keys.NewKeyStore(cfg.KeyStoreDir)
	if err := ks.Init(); err != nil {
		return nil, err
	}
	signer, err := ks.PublishKeyPair()
	if err != nil {
		return nil, err
	}
	mappingKey, err := ks.MappingPubKey()
	if err != nil {
		return nil, err
	}
	program, err := ks.ProgramPubKey()
	if err != nil {
		return nil, err
	}

	httpURL, wsURL, err := cfg.ResolveRPCHost()
	if err != nil {
		return nil, err
	}
	rpc, err := rpcclient.Dial(ctx, httpURL, wsURL, log)
	if err != nil {
		return nil, fmt.Errorf("manager: dial rpc: %w", err)
	}

	mir, err := mirror.Bootstrap(ctx, rpc, mappingKey, cfg.Commitment, log)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("manager: bootstrap mirror: %w", err)
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}

	var txClient *txservice.Client
	var fwd publish.Forwarder
	if cfg.TxHost != "" {
		txClient = txservice.NewClient(cfg.TxHost)
		fwd = txClient
	}

	registry := prometheus.NewRegistry()
	pipeline := publish.New(publish.Config{
		MaxBatchSize: maxBatch,
		CUUnits:      cfg.CUUnits,
		CUPrice:      cfg.CUPrice,
		Version:      2,
		Program:      program,
	}, signer, rpc, fwd, registry, log)
	mir.SetInflightClearer(pipeline)

	local, err := NewLocalServer(cfg.ListenPort, mir, pipeline, time.Duration(cfg.PublishIntervalMs)*time.Millisecond, log)
	if err != nil {
		rpc.Close()
		return nil, err
	}

	var capWriter *capture.Writer
	if cfg.CaptureFile != "" {
		capWriter, err = capture.Open(cfg.CaptureFile)
		if err != nil {
			local.Close()
			rpc.Close()
			return nil, err
		}
	}

	m := &Manager{
		cfg:      cfg,
		log:      log,
		keyStore: ks,
		program:  program,
		rpc:      rpc,
		mirror:   mir,
		pipeline: pipeline,
		local:    local,
		txClient: txClient,
		capture:  capWriter,
		registry: registry,
	}
	return m, nil
}

// Run subscribes to slot notifications and serves the local listener
// until ctx is cancelled. Publishing is driven by slot arrival; if
// PublishIntervalMs is set, a fallback ticker also flushes on a coarse
// timer for chains where slot notifications arrive too slowly.
func (m *Manager) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- m.local.Serve() }()

	if _, err := m.rpc.Subscribe(ctx, "slot", func(body jsonv.Node) bool {
		m.onSlot(ctx, body)
		return false
	}); err != nil {
		return fmt.Errorf("manager: subscribe slot: %w", err)
	}

	if m.cfg.PublishIntervalMs > 0 {
		m.fallbackTicker = time.NewTicker(time.Duration(m.cfg.PublishIntervalMs) * time.Millisecond)
		go m.fallbackFlushLoop(ctx)
	}

	select {
	case <-ctx.Done():
		m.Close()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (m *Manager) onSlot(ctx context.Context, body jsonv.Node) {
	slotNode, ok := body.FindVal("slot")
	if !ok {
		return
	}
	slot, err := slotNode.GetUint()
	if err != nil {
		return
	}
	atomic.StoreUint64(&m.curSlot, slot)
	if err := m.pipeline.Flush(ctx, slot); err != nil && m.log != nil {
		m.log.Warn("manager: publish flush failed", zap.Error(err))
	}
}

func (m *Manager) fallbackFlushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.fallbackTicker.C:
			slot := atomic.LoadUint64(&m.curSlot)
			if err := m.pipeline.Flush(ctx, slot); err != nil && m.log != nil {
				m.log.Warn("manager: fallback flush failed", zap.Error(err))
			}
		}
	}
}

// Close tears every owned component down, in reverse dependency order.
func (m *Manager) Close() error {
	if m.fallbackTicker != nil {
		m.fallbackTicker.Stop()
	}
	if m.local != nil {
		m.local.Close()
	}
	if m.txClient != nil {
		m.txClient.Close()
	}
	if m.capture != nil {
		m.capture.Close()
	}
	if m.rpc != nil {
		m.rpc.Close()
	}
	return nil
}

// Mirror exposes the account mirror for callers that need read-only
// inspection (e.g. the metrics endpoint or a health check).
func (m *Manager) Mirror() *mirror.Mirror { return m.mirror }

// Pipeline exposes the publish pipeline for the same reason.
func (m *Manager) Pipeline() *publish.Pipeline { return m.pipeline }

// Registry exposes the pipeline's metrics registry for an HTTP /metrics
// endpoint (spec §6.6, ambient — ungated by the spec's Non-goal on
// metrics *collection logic*, which names the aggregation/consensus
// algorithm, not basic operational counters).
func (m *Manager) Registry() *prometheus.Registry { return m.registry }
