package txservice

import (
	"fmt"
	"net"
	"sync"
)

// Client is a thin TCP client of a standalone tx-forwarder's listener
// (pc_tpu_proxy's client port): it frames each transaction with
// EncodeFrame and writes it, implementing pkg/publish.Forwarder so a
// publisher daemon can delegate broadcast to an external forwarder
// process instead of running the forwarder's leader-schedule/UDP-fanout
// logic itself (spec §4.7: "also embeddable" cuts both ways — a daemon
// embeds either the forwarder or a client of one, never both).
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewClient returns a Client that lazily dials addr on first Send.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Send frames and forwards tx, dialing (or redialing, after a prior
// write failure) as needed.
func (c *Client) Send(tx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := net.Dial("tcp", c.addr)
		if err != nil {
			return fmt.Errorf("txservice: dial forwarder %s: %w", c.addr, err)
		}
		c.conn = conn
	}
	if _, err := c.conn.Write(EncodeFrame(tx)); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("txservice: write to forwarder %s: %w", c.addr, err)
	}
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
