// Package rpcclient is the daemon's Solana JSON-RPC client: an HTTP socket
// for request/response calls and a WebSocket socket for subscriptions and
// their notifications, correlated by an id allocator and a respWait table
// modeled on the teacher's vendored go-ethereum rpc/handler.go (spec §4.3).
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/netio"
	"github.com/pyth-network/pythd/pkg/perrors"
)

// Client owns the WebSocket connection and the correlation tables spec §4.3
// describes; CallContext opens a fresh HTTP connection for each call. It
// is safe for concurrent use: CallContext is typically
// invoked from the manager's event-loop goroutine, but the WebSocket read
// loop runs on its own goroutine (gorilla/websocket's Recv is blocking;
// see pkg/netio.WSConn), so dispatch is guarded by a mutex.
type Client struct {
	log *zap.Logger

	httpHost   string
	httpScheme string
	httpAddr   string

	wsURL string
	ws    *netio.WSConn

	ids idAllocator

	mu      sync.Mutex
	pending map[uint64]*requestOp
	subs    map[uint64]*Subscription
	closed  bool
}

// Dial connects the HTTP and WebSocket legs for httpURL/wsURL. Either URL
// may be empty if that transport isn't needed by the caller (e.g. the tx
// forwarder only needs HTTP).
func Dial(ctx context.Context, httpURL, wsURL string, log *zap.Logger) (*Client, error) {
	c := &Client{
		log:     log,
		pending: make(map[uint64]*requestOp),
		subs:    make(map[uint64]*Subscription),
	}
	if httpURL != "" {
		u, err := url.Parse(httpURL)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: parse http url: %w", err)
		}
		c.httpScheme = u.Scheme
		c.httpHost = u.Host
		c.httpAddr = u.Path
		if c.httpAddr == "" {
			c.httpAddr = "/"
		}
	}
	if wsURL != "" {
		ws, err := netio.DialWS(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: dial ws: %w", err)
		}
		c.ws = ws
		c.wsURL = wsURL
		go c.readLoopWS()
	}
	return c, nil
}

// CallContext issues one JSON-RPC call over the HTTP leg and decodes its
// result into dst, mirroring the teacher's CallContext(ctx, &res, method,
// params...) signature in client.go.
func (c *Client) CallContext(ctx context.Context, dst interface{}, method string, params ...interface{}) error {
	id := c.allocID()
	defer c.releaseID(id)

	body, err := buildRequest(id, method, params)
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", c.httpHost)
	if err != nil {
		return fmt.Errorf("rpcclient: dial %s: %w", c.httpHost, perrors.Wrap("transport", err))
	}
	defer conn.Close()

	q := netio.NewWriteQueue()
	netio.WriteHTTPRequest(q, netio.HTTPRequest{
		Method: "POST",
		Path:   c.httpAddr,
		Host:   c.httpHost,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   body,
	})
	for q.Pending() {
		if _, werr := q.PollSend(conn); werr != nil {
			return fmt.Errorf("rpcclient: send: %w", perrors.Wrap("transport", werr))
		}
	}

	var resp netio.HTTPResponse
	gotResp := false
	framer := netio.NewHTTPFramer()
	framer.OnResponse = func(r netio.HTTPResponse) { resp = r; gotResp = true }

	rb := netio.NewReadBuffer(netio.BufSize)
	for !gotResp {
		if rerr := rb.PollRecv(conn, framer.Parse); rerr != nil {
			return fmt.Errorf("rpcclient: recv: %w", perrors.Wrap("transport", rerr))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	tree, err := jsonv.Parse(resp.Body)
	if err != nil {
		return fmt.Errorf("rpcclient: %w", perrors.Wrap("protocol", err))
	}
	env, err := parseEnvelope(tree)
	if err != nil {
		return fmt.Errorf("rpcclient: %w", perrors.Wrap("protocol", err))
	}
	if env.err != nil {
		return env.err
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(env.result.Raw(), dst)
}

// Subscribe opens a subscription over the WebSocket leg, sending
// "<method>Subscribe" and registering notify against the subscription id
// returned in the result.
func (c *Client) Subscribe(ctx context.Context, method string, notify func(jsonv.Node) bool, params ...interface{}) (*Subscription, error) {
	if c.ws == nil {
		return nil, fmt.Errorf("rpcclient: subscribe requires a websocket connection")
	}
	id := c.allocID()
	body, err := buildRequest(id, method+"Subscribe", params)
	if err != nil {
		c.releaseID(id)
		return nil, err
	}

	op := newRequestOp(id)
	c.mu.Lock()
	c.pending[id] = op
	c.mu.Unlock()

	if err := c.ws.Send(body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.releaseID(id)
		return nil, fmt.Errorf("rpcclient: %w", perrors.Wrap("transport", err))
	}

	env, err := op.wait(ctx)
	c.releaseID(id)
	if err != nil {
		return nil, err
	}
	if env.err != nil {
		return nil, env.err
	}
	subID, err := env.result.GetUint()
	if err != nil {
		return nil, fmt.Errorf("rpcclient: subscribe result not numeric: %w", err)
	}

	sub := &Subscription{ID: subID, Method: method, Notify: notify, errCh: make(chan error, 1)}
	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()
	return sub, nil
}

// Unsubscribe tears down a subscription client-side and best-effort notifies
// the server with "<method>Unsubscribe".
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.mu.Lock()
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	return c.CallContext(ctx, nil, sub.Method+"Unsubscribe", sub.ID)
}

func (c *Client) allocID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.alloc()
}

func (c *Client) releaseID(id uint64) {
	c.mu.Lock()
	c.ids.release(id)
	c.mu.Unlock()
}

// readLoopWS drains WebSocket messages and dispatches them by id (pending
// call correlation) or params.subscription (live notification), exactly as
// spec §4.3's receive logic describes.
func (c *Client) readLoopWS() {
	for {
		raw, err := c.ws.Recv()
		if err != nil {
			c.teardown(err)
			return
		}
		tree, perr := jsonv.Parse(raw)
		if perr != nil {
			if c.log != nil {
				c.log.Warn("rpcclient: malformed websocket message", zap.Error(perr))
			}
			continue
		}
		env, perr := parseEnvelope(tree)
		if perr != nil {
			if c.log != nil {
				c.log.Warn("rpcclient: unroutable websocket message", zap.Error(perr))
			}
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	if env.hasID {
		c.mu.Lock()
		op, ok := c.pending[env.id]
		if ok {
			delete(c.pending, env.id)
		}
		c.mu.Unlock()
		if ok {
			op.resp <- env
		}
		return
	}
	if env.hasSub {
		c.mu.Lock()
		sub, ok := c.subs[env.subID]
		c.mu.Unlock()
		if !ok {
			return
		}
		if sub.Notify(env.notifyBody) {
			c.mu.Lock()
			delete(c.subs, env.subID)
			c.mu.Unlock()
		}
	}
}

// teardown fires every pending request and live subscription with err and
// clears the tables (spec §5: "closing a socket tears down every request
// it owned").
func (c *Client) teardown(err error) {
	c.mu.Lock()
	pending := c.pending
	subs := c.subs
	c.pending = make(map[uint64]*requestOp)
	c.subs = make(map[uint64]*Subscription)
	c.closed = true
	c.mu.Unlock()

	for _, op := range pending {
		op.resp <- envelope{err: &rpcError{Code: -1, Message: err.Error()}}
	}
	for _, sub := range subs {
		sub.errCh <- err
		close(sub.errCh)
	}
}

// Close tears down the WebSocket connection, if any.
func (c *Client) Close() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}
