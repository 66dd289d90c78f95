package txservice

import (
	"net"
	"testing"
	"time"

	"github.com/pyth-network/pythd/pkg/keys"
)

func testLeader(t *testing.T, b byte) keys.PublicKey {
	t.Helper()
	var pk keys.PublicKey
	pk[0] = b
	return pk
}

func TestOnSlotRejectsOutOfOrder(t *testing.T) {
	f := NewForwarder(nil, nil)
	accepted, _ := f.OnSlot(100)
	if !accepted {
		t.Fatal("first slot should be accepted")
	}
	accepted, _ = f.OnSlot(100)
	if accepted {
		t.Fatal("duplicate slot should be rejected")
	}
	accepted, _ = f.OnSlot(99)
	if accepted {
		t.Fatal("earlier slot should be rejected")
	}
}

func TestOnSlotHeartbeatCadence(t *testing.T) {
	f := NewForwarder(nil, nil)
	var due []bool
	for s := uint64(1); s <= uint64(HeartbeatInterval)+1; s++ {
		_, heartbeat := f.OnSlot(s)
		due = append(due, heartbeat)
	}
	if !due[0] {
		t.Fatal("first slot notification should trigger a heartbeat")
	}
	for i := 1; i < HeartbeatInterval; i++ {
		if due[i] {
			t.Fatalf("unexpected heartbeat at offset %d", i)
		}
	}
	if !due[HeartbeatInterval] {
		t.Fatalf("expected heartbeat at offset %d", HeartbeatInterval)
	}
}

func TestOnSlotBuildsUniqueLeaderAddressSet(t *testing.T) {
	f := NewForwarder(nil, nil)
	leaderA := testLeader(t, 1)
	leaderB := testLeader(t, 2)
	f.SetLeaderSchedule(0, []keys.PublicKey{
		leaderA, leaderA, leaderB, leaderB, leaderA, leaderA, leaderA, leaderA, leaderA, leaderA,
	})
	addrA := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 8001}
	addrB := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 8002}
	f.SetClusterNodes(map[keys.PublicKey]*net.UDPAddr{leaderA: addrA, leaderB: addrB})

	f.OnSlot(3) // window [2, 8): leaderB(2), leaderB(3), leaderA(4..7)
	addrs := f.CurrentAddrs()
	if len(addrs) != 2 {
		t.Fatalf("len(addrs) = %d, want 2 (deduped)", len(addrs))
	}
}

func TestNeedsLeaderRefreshNearHorizon(t *testing.T) {
	f := NewForwarder(nil, nil)
	f.SetLeaderSchedule(0, make([]keys.PublicKey, LeaderMax))

	f.OnSlot(1)
	if needed, _ := f.NeedsLeaderRefresh(); needed {
		t.Fatal("should not need refresh far from horizon")
	}

	f.OnSlot(LeaderMax - LeaderMin + 1)
	if needed, from := f.NeedsLeaderRefresh(); !needed || from != f.slot-LeaderMin {
		t.Fatalf("expected refresh needed near horizon: needed=%v from=%d", needed, from)
	}
}

func TestSubmitFansOutToEveryCurrentAddr(t *testing.T) {
	recvA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	defer recvA.Close()
	recvB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}
	defer recvB.Close()

	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatalf("listen send socket: %v", err)
	}
	defer udp.Close()

	f := NewForwarder(udp, nil)
	leaderA := testLeader(t, 1)
	leaderB := testLeader(t, 2)
	f.SetLeaderSchedule(0, []keys.PublicKey{leaderA, leaderB})
	f.SetClusterNodes(map[keys.PublicKey]*net.UDPAddr{
		leaderA: recvA.LocalAddr().(*net.UDPAddr),
		leaderB: recvB.LocalAddr().(*net.UDPAddr),
	})
	f.OnSlot(1)

	payload := []byte("fake-signed-transaction")
	if err := f.Submit(payload); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	buf := make([]byte, 256)
	recvA.SetReadDeadline(time.Now().Add(time.Second))
	n, err := recvA.Read(buf)
	if err != nil {
		t.Fatalf("recvA read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("recvA got %q, want %q", buf[:n], payload)
	}

	recvB.SetReadDeadline(time.Now().Add(time.Second))
	n, err = recvB.Read(buf)
	if err != nil {
		t.Fatalf("recvB read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("recvB got %q, want %q", buf[:n], payload)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	payload := []byte("fake-signed-transaction")
	frame := EncodeFrame(payload)
	if len(frame) != frameHeaderSize+len(payload) {
		t.Fatalf("len(frame) = %d, want %d", len(frame), frameHeaderSize+len(payload))
	}
	magic := uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24
	if magic != FrameMagic {
		t.Fatalf("magic = %#x, want %#x", magic, FrameMagic)
	}
}
