package txservice

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// FrameMagic tags a forwarder client frame (spec §6.3: "u32 magic | u32
// size | payload"), ported from tx_svr.cpp's PC_TPU_PROTO_ID check in
// tx_user::parse.
const FrameMagic = uint32(0x50595448) // "PYTH"

const frameHeaderSize = 8

// Listener accepts length+magic-framed transaction submissions on a local
// TCP port and fans each payload out through a Forwarder (tx_svr's
// accept/tx_user::parse/submit chain).
type Listener struct {
	fwd *Forwarder
	log *zap.Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewListener constructs a Listener bound to addr (e.g. ":8898", the
// teacher's PC_TPU_PROXY_PORT).
func NewListener(addr string, fwd *Forwarder, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("txservice: listen %s: %w", addr, err)
	}
	return &Listener{fwd: fwd, log: log, ln: ln, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine. Every accepted connection only ever parses frames and
// calls Forwarder.Submit — no daemon state outside this package is
// touched, so this does not violate the single-writer-thread model
// elsewhere in the daemon (spec §5: the forwarder is its own process/
// goroutine group).
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		go l.handle(conn)
	}
}

// Close shuts the listener down; in-flight connections are left to drain
// and close on their own read error.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
	}()

	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		magic := binary.LittleEndian.Uint32(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])
		if magic != FrameMagic {
			if l.log != nil {
				l.log.Warn("txservice: bad frame magic, dropping connection", zap.Uint32("magic", magic))
			}
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		if err := l.fwd.Submit(payload); err != nil && l.log != nil {
			l.log.Warn("txservice: submit failed", zap.Error(err))
		}
	}
}

// EncodeFrame wraps payload in the magic|size framing Listener expects;
// used by local clients that submit transactions over this port.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], FrameMagic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[frameHeaderSize:], payload)
	return out
}
