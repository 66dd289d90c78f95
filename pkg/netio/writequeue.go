// Package netio implements the daemon's non-blocking socket layer: a
// write-queue wrapper around net.Conn, an HTTP/1.1 framer built directly on
// the connection (not net/http.Client), a WebSocket framer over
// gorilla/websocket, and the outbound TCP/UDP primitives the tx forwarder
// uses. WriteQueue and ReadBuffer are advanced by explicit PollSend/PollRecv
// calls from their owner and Connector by repeated Check calls; WSConn.Recv
// blocks, so its caller reads it from a goroutine of its own.
package netio

import (
	"errors"
	"net"
)

// BufSize is the size of one write-queue node, matching the daemon's wire
// MTU-friendly chunking (spec §4.1).
const BufSize = 1270

// ErrOversized is returned when a single UDP send exceeds one datagram.
var ErrOversized = errors.New("netio: payload exceeds single datagram")

type bufNode struct {
	data [BufSize]byte
	n    int
	off  int
	next int // index into WriteQueue.nodes, -1 if none
}

// WriteQueue is an arena of fixed-size buffer nodes addressed by index
// rather than pointer, with a free list threaded through the same arena
// (spec §9: arena+generation indices over raw linked lists).
type WriteQueue struct {
	nodes []bufNode
	free  int // head of free list, -1 if empty
	head  int // head of pending chain, -1 if empty
	tail  int
}

// NewWriteQueue returns an empty write queue.
func NewWriteQueue() *WriteQueue {
	return &WriteQueue{free: -1, head: -1, tail: -1}
}

func (q *WriteQueue) alloc() int {
	if q.free != -1 {
		i := q.free
		q.free = q.nodes[i].next
		q.nodes[i].n, q.nodes[i].off, q.nodes[i].next = 0, 0, -1
		return i
	}
	q.nodes = append(q.nodes, bufNode{next: -1})
	return len(q.nodes) - 1
}

func (q *WriteQueue) release(i int) {
	q.nodes[i].next = q.free
	q.free = i
}

// QueueSend copies b into the chain of pending buffer nodes, allocating new
// nodes from the free list as needed.
func (q *WriteQueue) QueueSend(b []byte) {
	for len(b) > 0 {
		var i int
		if q.tail != -1 && q.nodes[q.tail].n < BufSize {
			i = q.tail
		} else {
			i = q.alloc()
			if q.tail == -1 {
				q.head = i
			} else {
				q.nodes[q.tail].next = i
			}
			q.tail = i
		}
		node := &q.nodes[i]
		n := copy(node.data[node.n:], b)
		node.n += n
		b = b[n:]
	}
}

// Pending reports whether any bytes remain queued for send.
func (q *WriteQueue) Pending() bool { return q.head != -1 }

// PollSend drains as many queued bytes as conn accepts without blocking,
// distinguishing transient (net.Error.Temporary) from fatal errors. It
// returns the number of bytes written and the first fatal error seen, if
// any; a nil error with head still pending means the caller should retry on
// next readiness.
func (q *WriteQueue) PollSend(conn net.Conn) (written int, err error) {
	for q.head != -1 {
		node := &q.nodes[q.head]
		n, werr := conn.Write(node.data[node.off:node.n])
		written += n
		node.off += n
		if werr != nil {
			if ne, ok := werr.(net.Error); ok && ne.Temporary() {
				return written, nil
			}
			return written, werr
		}
		if node.off >= node.n {
			next := node.next
			q.release(q.head)
			q.head = next
			if q.head == -1 {
				q.tail = -1
			}
			continue
		}
		// Partial write with no error: stop, wait for next readiness.
		break
	}
	return written, nil
}
