package txservice

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/rpcclient"
)

// ReconnectSeed and ReconnectMax are the backoff bounds from
// PC_RECONNECT_TIMEOUT: a 1s-seeded doubling timer capped at 120s.
const (
	ReconnectSeed = time.Second
	ReconnectMax  = 120 * time.Second
)

// Dialer opens the pair of sockets (HTTP + WebSocket legs) a Connector
// needs; satisfied by rpcclient.Dial, narrowed here so tests can fake it.
type Dialer func(ctx context.Context, httpURL, wsURL string, log *zap.Logger) (*rpcclient.Client, error)

// Connector drives one Forwarder's RPC lifecycle: dial, subscribe to
// slots, fetch cluster nodes and the leader schedule, and reconnect with
// exponential backoff on failure (spec §4.7's Lifecycle/Reconnect, ported
// from tx_svr::reconnect_rpc/on_response(slot_subscribe)).
type Connector struct {
	fwd       *Forwarder
	httpURL   string
	wsURL     string
	commitment string
	dial      Dialer
	log       *zap.Logger

	client    *rpcclient.Client
	connected bool
	timeout   time.Duration
	lastTry   time.Time
}

// NewConnector constructs a Connector against fwd, dialing httpURL/wsURL
// on (re)connect.
func NewConnector(fwd *Forwarder, httpURL, wsURL, commitment string, dial Dialer, log *zap.Logger) *Connector {
	return &Connector{
		fwd:        fwd,
		httpURL:    httpURL,
		wsURL:      wsURL,
		commitment: commitment,
		dial:       dial,
		log:        log,
		timeout:    ReconnectSeed,
	}
}

// Poll drives one tick of the reconnect state machine: dial if
// disconnected and the backoff timer has elapsed, otherwise no-op.
func (c *Connector) Poll(ctx context.Context) {
	if c.connected {
		return
	}
	now := time.Now()
	if !c.lastTry.IsZero() && now.Sub(c.lastTry) < c.timeout {
		return
	}
	c.lastTry = now

	client, err := c.dial(ctx, c.httpURL, c.wsURL, c.log)
	if err != nil {
		c.timeout *= 2
		if c.timeout > ReconnectMax {
			c.timeout = ReconnectMax
		}
		if c.log != nil {
			c.log.Warn("txservice: reconnect failed", zap.Error(err), zap.Duration("next_retry", c.timeout))
		}
		return
	}

	c.client = client
	c.connected = true
	c.timeout = ReconnectSeed
	c.fwd.Reset()
	if c.log != nil {
		c.log.Info("txservice: rpc_connected")
	}
	c.startLifecycle(ctx)
}

// Connected reports whether the connector currently holds a live client.
func (c *Connector) Connected() bool { return c.connected }

// startLifecycle implements spec §4.7 step 1: subscribe to slots, request
// cluster nodes, request the initial leader schedule, and prime the
// heartbeat.
func (c *Connector) startLifecycle(ctx context.Context) {
	if _, err := c.client.Subscribe(ctx, "slot", func(body jsonv.Node) bool {
		c.onSlotNotification(ctx, body)
		return false
	}); err != nil {
		c.onError(err)
		return
	}
	c.requestClusterNodes(ctx)
	c.requestLeaderSchedule(ctx, 0)
}

func (c *Connector) onSlotNotification(ctx context.Context, body jsonv.Node) {
	slotNode, ok := body.FindVal("slot")
	if !ok {
		return
	}
	slot, err := slotNode.GetUint()
	if err != nil {
		return
	}
	accepted, heartbeat := c.fwd.OnSlot(slot)
	if !accepted {
		return
	}
	if heartbeat {
		c.sendHeartbeat(ctx)
	}
	if needed, fromSlot := c.fwd.NeedsLeaderRefresh(); needed {
		c.requestLeaderSchedule(ctx, fromSlot)
	}
}

func (c *Connector) sendHeartbeat(ctx context.Context) {
	var health string
	if err := c.client.CallContext(ctx, &health, "getHealth"); err != nil && c.log != nil {
		c.log.Warn("txservice: getHealth heartbeat failed", zap.Error(err))
	}
}

func (c *Connector) requestClusterNodes(ctx context.Context) {
	var res []struct {
		Pubkey string `json:"pubkey"`
		TPU    string `json:"tpu"`
	}
	if err := c.client.CallContext(ctx, &res, "getClusterNodes"); err != nil {
		c.onError(err)
		return
	}
	nodes := make(map[keys.PublicKey]*net.UDPAddr, len(res))
	for _, n := range res {
		if n.TPU == "" {
			continue
		}
		pk, err := keys.PublicKeyFromBase58(n.Pubkey)
		if err != nil {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", n.TPU)
		if err != nil {
			continue
		}
		nodes[pk] = addr
	}
	c.fwd.SetClusterNodes(nodes)
}

func (c *Connector) requestLeaderSchedule(ctx context.Context, fromSlot uint64) {
	var res []string
	if err := c.client.CallContext(ctx, &res, "getSlotLeaders", fromSlot, LeaderMax); err != nil {
		c.onError(err)
		return
	}
	leaders := make([]keys.PublicKey, 0, len(res))
	for _, s := range res {
		pk, err := keys.PublicKeyFromBase58(s)
		if err != nil {
			continue
		}
		leaders = append(leaders, pk)
	}
	c.fwd.SetLeaderSchedule(fromSlot, leaders)
}

func (c *Connector) onError(err error) {
	c.connected = false
	if c.log != nil {
		c.log.Warn("txservice: rpc error, will reconnect", zap.Error(err))
	}
}
