package rpcclient

import "context"

// requestOp tracks one in-flight request, modeled directly on the
// requestOp/respWait pattern in the teacher's vendored rpc/handler.go
// (go-ethereum's JSON-RPC handler): register it before sending, then wait
// for the reply to arrive through the read loop and be delivered on resp.
type requestOp struct {
	id   uint64
	resp chan envelope
}

func newRequestOp(id uint64) *requestOp {
	return &requestOp{id: id, resp: make(chan envelope, 1)}
}

// wait blocks until either the response arrives or ctx is done.
func (op *requestOp) wait(ctx context.Context) (envelope, error) {
	select {
	case e := <-op.resp:
		return e, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}
