// Package txservice implements the standalone (also embeddable)
// transaction-forwarding service: it maintains a rolling Solana leader
// schedule and fans out client-submitted transactions to the current
// leaders' TPU addresses over UDP (spec §4.7).
package txservice

import (
	"fmt"
	"net"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/netio"
)

// Constants ported from PC_LEADER_MAX/PC_LEADER_MIN/PC_HBEAT_INTERVAL/
// PC_RECONNECT_TIMEOUT (pcapps/tx_svr.cpp).
const (
	// LeaderMax is the number of slot leaders requested per getSlotLeaders call.
	LeaderMax = 256
	// LeaderMin is both the schedule-refresh horizon and the lookback offset
	// ([slot-1, slot+LeaderMin) is the window the schedule must cover).
	LeaderMin = 32
	// HeartbeatInterval is the number of slots between getHealth heartbeats.
	HeartbeatInterval = 16
	// fanoutWindow is the forward look-ahead used when rebuilding the
	// address set each slot (slot-1 .. slot+4 in the C source).
	fanoutWindow = 5
)

// Forwarder owns the current slot, the rolling leader schedule, and the
// leader-to-TPU-address map, and fans out submitted transactions to the
// current leader set over UDP.
type Forwarder struct {
	log *zap.Logger
	udp *net.UDPConn

	mu            sync.Mutex
	slot          uint64
	slotCount     uint64
	schedule      map[uint64]keys.PublicKey
	lastSlot      uint64
	scheduleRecvd bool
	clusterNodes  map[keys.PublicKey]*net.UDPAddr
	currentAddrs  []*net.UDPAddr
}

// NewForwarder constructs a Forwarder. udp is the socket used to fan out
// transactions; it is never read from, only written to.
func NewForwarder(udp *net.UDPConn, log *zap.Logger) *Forwarder {
	return &Forwarder{
		log:          log,
		udp:          udp,
		schedule:     make(map[uint64]keys.PublicKey),
		clusterNodes: make(map[keys.PublicKey]*net.UDPAddr),
	}
}

// Reset clears the current slot and the fan-out address set, called whenever
// the RPC connections (re)establish (tx_svr::reconnect_rpc's "reset state").
// The leader schedule and cluster-node table are kept until new ones are set.
func (f *Forwarder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot = 0
	f.currentAddrs = nil
}

// SetClusterNodes replaces the leader-pubkey-to-TPU-address table from a
// getClusterNodes response.
func (f *Forwarder) SetClusterNodes(nodes map[keys.PublicKey]*net.UDPAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusterNodes = nodes
}

// SetLeaderSchedule replaces the [firstSlot, firstSlot+len(leaders)) leader
// schedule from a getSlotLeaders response.
func (f *Forwarder) SetLeaderSchedule(firstSlot uint64, leaders []keys.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedule = make(map[uint64]keys.PublicKey, len(leaders))
	for i, l := range leaders {
		f.schedule[firstSlot+uint64(i)] = l
	}
	f.lastSlot = firstSlot + uint64(len(leaders))
	f.scheduleRecvd = true
}

// NeedsLeaderRefresh reports whether the current slot has entered within
// LeaderMin of the schedule's horizon (tx_svr::on_response(slot_subscribe)'s
// "slot_ > lreq_->get_last_slot() - PC_LEADER_MIN" check).
func (f *Forwarder) NeedsLeaderRefresh() (needed bool, requestFromSlot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.scheduleRecvd {
		return false, 0
	}
	if f.slot > f.lastSlot-LeaderMin {
		return true, f.slot - LeaderMin
	}
	return false, 0
}

// OnSlot processes a slot notification: rejects stale/out-of-order slots,
// reports whether a heartbeat is due, and rebuilds the current fan-out
// address set (spec §4.7 step 2 / tx_svr::on_response(slot_subscribe)).
func (f *Forwarder) OnSlot(slot uint64) (accepted bool, heartbeatDue bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot <= f.slot {
		return false, false
	}
	f.slot = slot
	due := f.slotCount%HeartbeatInterval == 0
	f.slotCount++

	maxSlot := slot + fanoutWindow
	if f.scheduleRecvd && f.lastSlot < maxSlot {
		maxSlot = f.lastSlot
	}

	var addrs []*net.UDPAddr
	seen := mapset.NewSet[string]()
	var prevLeader keys.PublicKey
	hasPrev := false
	for s := slot - 1; s < maxSlot; s++ {
		leader, ok := f.schedule[s]
		if !ok {
			continue
		}
		if hasPrev && leader == prevLeader {
			prevLeader = leader
			continue
		}
		prevLeader, hasPrev = leader, true

		addr, ok := f.clusterNodes[leader]
		if !ok {
			if f.log != nil {
				f.log.Warn("txservice: missing leader address",
					zap.Stringer("leader", leader), zap.Uint64("slot", s))
			}
			continue
		}
		key := addr.String()
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		addrs = append(addrs, addr)
	}
	f.currentAddrs = addrs
	return true, due
}

// CurrentAddrs returns the current fan-out address set.
func (f *Forwarder) CurrentAddrs() []*net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*net.UDPAddr, len(f.currentAddrs))
	copy(out, f.currentAddrs)
	return out
}

// Submit fans payload out over UDP to every address in the current leader
// set (tx_svr::submit).
func (f *Forwarder) Submit(payload []byte) error {
	addrs := f.CurrentAddrs()
	if f.log != nil {
		f.log.Debug("txservice: submit tx", zap.Int("num_leaders", len(addrs)))
	}
	if errs := netio.FanoutUDP(f.udp, addrs, payload); len(errs) > 0 {
		return fmt.Errorf("txservice: udp fanout: %w", errs[0])
	}
	return nil
}

// Send implements pkg/publish.Forwarder by passing tx, unframed, straight
// to Submit; it is the in-process path for a pipeline that shares a
// process with the forwarder (no TCP client-port framing is involved).
func (f *Forwarder) Send(tx []byte) error {
	return f.Submit(tx)
}
