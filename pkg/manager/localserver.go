// Local publisher protocol (spec §6.3): a WebSocket JSON-RPC server local
// clients connect to in order to discover products and push price
// updates, without ever touching Solana account/key details themselves.
// Grounded on original_source/pctest/test_publish_websocket.cpp, the one
// place in the original sources that demonstrates a full client of this
// protocol end to end (get_product_list, subscribe_price_sched,
// update_price, notify_price_sched).
package manager

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/mirror"
	"github.com/pyth-network/pythd/pkg/netio"
	"github.com/pyth-network/pythd/pkg/perrors"
	"github.com/pyth-network/pythd/pkg/publish"
	"github.com/pyth-network/pythd/pkg/schema"
)

// DefaultScheduleInterval is pythd's own default notify_price_sched cadence.
const DefaultScheduleInterval = time.Second

// LocalServer hosts the local publisher WebSocket JSON-RPC API on its own
// listener; every connection is served on its own goroutine per spec §5's
// "local listener" client model; all state mutation flows through
// Mirror/Pipeline's own mutexes, so this never needs a lock of its own
// beyond the subscription table.
type LocalServer struct {
	m   *mirror.Mirror
	p   *publish.Pipeline
	log *zap.Logger

	schedInterval time.Duration

	ln  net.Listener
	srv *http.Server

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription

	stop chan struct{}
}

type subscription struct {
	account keys.PublicKey
	conn    *wsConn
}

// wsConn serializes writes to one connection: gorilla/websocket
// connections are safe for one concurrent reader and one concurrent
// writer, but this server has both the read loop and the schedule ticker
// writing to the same connection.
type wsConn struct {
	ws *netio.WSConn
	mu sync.Mutex
}

func (c *wsConn) send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Send(b)
}

// NewLocalServer binds addr and wires m/p as the product/price source and
// update sink. schedInterval <= 0 uses DefaultScheduleInterval.
func NewLocalServer(addr string, m *mirror.Mirror, p *publish.Pipeline, schedInterval time.Duration, log *zap.Logger) (*LocalServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("manager: local listener: %w", err)
	}
	if schedInterval <= 0 {
		schedInterval = DefaultScheduleInterval
	}
	s := &LocalServer{
		m:             m,
		p:             p,
		log:           log,
		schedInterval: schedInterval,
		ln:            ln,
		subs:          make(map[uint64]*subscription),
		stop:          make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.srv = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the server's bound address.
func (s *LocalServer) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the HTTP/WebSocket accept loop and the schedule ticker until
// Close is called.
func (s *LocalServer) Serve() error {
	go s.tickLoop()
	return s.srv.Serve(s.ln)
}

// Close stops the ticker and closes the listener; in-flight connections
// drain on their own read error.
func (s *LocalServer) Close() error {
	close(s.stop)
	return s.srv.Close()
}

func (s *LocalServer) tickLoop() {
	ticker := time.NewTicker(s.schedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcastSchedule()
		}
	}
}

func (s *LocalServer) broadcastSchedule() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	ids := make([]uint64, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for i, sub := range subs {
		msg := encodeNotification("notify_price_sched", func(w *jsonv.Writer) {
			w.Key("subscription")
			w.Uint(ids[i])
		})
		if err := sub.conn.send(msg); err != nil && s.log != nil {
			s.log.Debug("manager: notify_price_sched send failed", zap.Error(err))
		}
	}
}

func (s *LocalServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := netio.AcceptWS(w, r)
	if err != nil {
		if s.log != nil {
			s.log.Warn("manager: websocket upgrade failed", zap.Error(err))
		}
		return
	}
	conn := &wsConn{ws: raw}
	defer s.dropConn(conn)
	defer raw.Close()

	for {
		msg, err := raw.Recv()
		if err != nil {
			return
		}
		s.handleMessage(conn, msg)
	}
}

func (s *LocalServer) dropConn(conn *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.conn == conn {
			delete(s.subs, id)
		}
	}
}

func (s *LocalServer) handleMessage(conn *wsConn, raw []byte) {
	tree, err := jsonv.Parse(raw)
	if err != nil {
		return
	}
	root := tree.Root()
	methodNode, ok := root.FindVal("method")
	if !ok {
		return
	}
	method, err := methodNode.GetText()
	if err != nil {
		return
	}
	idNode, hasID := root.FindVal("id")
	params, _ := root.FindVal("params")

	var (
		result []byte
		rpcErr error
	)
	switch method {
	case "get_product_list":
		result = s.handleGetProductList()
	case "subscribe_price_sched":
		result, rpcErr = s.handleSubscribePriceSched(conn, params)
	case "update_price":
		result, rpcErr = s.handleUpdatePrice(params)
	default:
		rpcErr = fmt.Errorf("unknown method %q: %w", method, perrors.ErrInvalidArgument)
	}

	if !hasID {
		return // notification-shaped request; no response expected
	}
	id, _ := idNode.GetUint()
	var resp []byte
	if rpcErr != nil {
		resp = encodeErrorResponse(id, rpcErr)
	} else {
		resp = encodeResultResponse(id, result)
	}
	if err := conn.send(resp); err != nil && s.log != nil {
		s.log.Debug("manager: response send failed", zap.Error(err))
	}
}

func (s *LocalServer) handleGetProductList() []byte {
	w := jsonv.NewWriter()
	w.StartArray()
	for _, pub := range s.m.Products() {
		product, attrs, ok := s.m.Product(pub)
		if !ok {
			continue
		}
		w.StartObject()
		w.Key("account")
		w.String(pub.String())
		w.Key("attr_dict")
		w.StartObject()
		for _, a := range attrs {
			name, ok := s.m.AttrName(a.KeyID)
			if !ok {
				continue
			}
			w.Key(name)
			w.String(a.Value)
		}
		w.EndObject()
		w.Key("price")
		w.StartArray()
		for _, pricePub := range s.priceAccountsFor(product) {
			priceAcct, ok := s.m.Price(pricePub)
			if !ok {
				continue
			}
			w.StartObject()
			w.Key("account")
			w.String(pricePub.String())
			w.Key("price_type")
			w.Uint(uint64(priceAcct.PriceType))
			w.Key("price_exponent")
			w.Int(int64(priceAcct.Exponent))
			w.Key("status")
			w.String(statusToString(schema.PriceStatus(priceAcct.Agg.Status)))
			w.EndObject()
		}
		w.EndArray()
		w.EndObject()
	}
	w.EndArray()
	return w.Bytes()
}

func (s *LocalServer) priceAccountsFor(product *schema.ProductAccount) []keys.PublicKey {
	var out []keys.PublicKey
	pub := product.FirstPrice
	for !pub.IsZero() {
		out = append(out, pub)
		acct, ok := s.m.Price(pub)
		if !ok {
			break
		}
		pub = acct.Next
	}
	return out
}

func (s *LocalServer) handleSubscribePriceSched(conn *wsConn, params jsonv.Node) ([]byte, error) {
	accountNode, ok := params.FindVal("account")
	if !ok {
		return nil, fmt.Errorf("subscribe_price_sched: missing account")
	}
	accountStr, err := accountNode.GetText()
	if err != nil {
		return nil, fmt.Errorf("subscribe_price_sched: %w", err)
	}
	account, err := keys.PublicKeyFromBase58(accountStr)
	if err != nil {
		return nil, fmt.Errorf("subscribe_price_sched: invalid account: %w", err)
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = &subscription{account: account, conn: conn}
	s.mu.Unlock()

	w := jsonv.NewWriter()
	w.StartObject()
	w.Key("subscription")
	w.Uint(id)
	w.EndObject()
	return w.Bytes(), nil
}

func (s *LocalServer) handleUpdatePrice(params jsonv.Node) ([]byte, error) {
	accountNode, ok := params.FindVal("account")
	if !ok {
		return nil, fmt.Errorf("update_price: missing account")
	}
	accountStr, err := accountNode.GetText()
	if err != nil {
		return nil, fmt.Errorf("update_price: %w", err)
	}
	account, err := keys.PublicKeyFromBase58(accountStr)
	if err != nil {
		return nil, fmt.Errorf("update_price: invalid account: %w", err)
	}

	priceNode, ok := params.FindVal("price")
	if !ok {
		return nil, fmt.Errorf("update_price: missing price")
	}
	price, err := priceNode.GetInt()
	if err != nil {
		return nil, fmt.Errorf("update_price: price: %w", err)
	}

	confNode, ok := params.FindVal("conf")
	if !ok {
		return nil, fmt.Errorf("update_price: missing conf")
	}
	conf, err := confNode.GetUint()
	if err != nil {
		return nil, fmt.Errorf("update_price: conf: %w", err)
	}

	statusNode, ok := params.FindVal("status")
	if !ok {
		return nil, fmt.Errorf("update_price: missing status")
	}
	statusStr, err := statusNode.GetText()
	if err != nil {
		return nil, fmt.Errorf("update_price: status: %w", err)
	}
	status, ok := statusFromString(statusStr)
	if !ok {
		return nil, fmt.Errorf("update_price: unknown status %q", statusStr)
	}

	s.p.UpdatePrice(account, price, conf, status, true)

	w := jsonv.NewWriter()
	w.Bool(true)
	return w.Bytes(), nil
}

func statusToString(s schema.PriceStatus) string {
	switch s {
	case schema.PriceStatusTrading:
		return "trading"
	case schema.PriceStatusHalted:
		return "halted"
	case schema.PriceStatusAuction:
		return "auction"
	case schema.PriceStatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

func statusFromString(s string) (schema.PriceStatus, bool) {
	switch s {
	case "trading":
		return schema.PriceStatusTrading, true
	case "halted":
		return schema.PriceStatusHalted, true
	case "auction":
		return schema.PriceStatusAuction, true
	case "ignored":
		return schema.PriceStatusIgnored, true
	case "unknown":
		return schema.PriceStatusUnknown, true
	default:
		return schema.PriceStatusUnknown, false
	}
}

func encodeResultResponse(id uint64, result []byte) []byte {
	w := jsonv.NewWriter()
	w.StartObject()
	w.Key("jsonrpc")
	w.String("2.0")
	w.Key("id")
	w.Uint(id)
	w.Key("result")
	w.Raw(result)
	w.EndObject()
	return w.Bytes()
}

func encodeErrorResponse(id uint64, err error) []byte {
	w := jsonv.NewWriter()
	w.StartObject()
	w.Key("jsonrpc")
	w.String("2.0")
	w.Key("id")
	w.Uint(id)
	w.Key("error")
	w.StartObject()
	w.Key("code")
	w.Int(-32000)
	w.Key("message")
	w.String(err.Error())
	w.EndObject()
	w.EndObject()
	return w.Bytes()
}

func encodeNotification(method string, writeParams func(w *jsonv.Writer)) []byte {
	w := jsonv.NewWriter()
	w.StartObject()
	w.Key("jsonrpc")
	w.String("2.0")
	w.Key("method")
	w.String(method)
	w.Key("params")
	w.StartObject()
	writeParams(w)
	w.EndObject()
	w.EndObject()
	return w.Bytes()
}
