package publish

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pyth-network/pythd/pkg/jsonv"
	"github.com/pyth-network/pythd/pkg/keys"
	"github.com/pyth-network/pythd/pkg/rpcclient"
	"github.com/pyth-network/pythd/pkg/schema"
)

// fakeRPC is a minimal pipelineRPC double: getLatestBlockhash and
// sendTransaction return canned responses, signature subscriptions are
// recorded but never fire.
type fakeRPC struct {
	blockhash      string
	sendErr        error
	sentTxB64      []string
	signatureCalls int
}

func (f *fakeRPC) CallContext(ctx context.Context, dst interface{}, method string, params ...interface{}) error {
	switch method {
	case "getLatestBlockhash":
		var res struct {
			Value struct {
				Blockhash string `json:"blockhash"`
			} `json:"value"`
		}
		res.Value.Blockhash = f.blockhash
		raw, _ := json.Marshal(res)
		return json.Unmarshal(raw, dst)
	case "sendTransaction":
		f.sentTxB64 = append(f.sentTxB64, params[0].(string))
		if f.sendErr != nil {
			return f.sendErr
		}
		*(dst.(*string)) = "1111111111111111111111111111111111111111111111111111111111111111111111111111111"
		return nil
	}
	return nil
}

func (f *fakeRPC) Subscribe(ctx context.Context, method string, notify func(jsonv.Node) bool, params ...interface{}) (*rpcclient.Subscription, error) {
	f.signatureCalls++
	return nil, nil
}

func testPubKey(t *testing.T, b byte) keys.PublicKey {
	t.Helper()
	var pk keys.PublicKey
	pk[0] = b
	return pk
}

func newTestPipeline(t *testing.T, rpc pipelineRPC) (*Pipeline, keys.KeyPair) {
	t.Helper()
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cfg := Config{MaxBatchSize: 2, Version: 2, Program: computeBudgetProgram}
	return New(cfg, kp, rpc, nil, nil, nil), kp
}

func TestFlushSkipsWhenNothingDirty(t *testing.T) {
	rpc := &fakeRPC{blockhash: "11111111111111111111111111111111"}
	p, _ := newTestPipeline(t, rpc)
	if err := p.Flush(context.Background(), 10); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(rpc.sentTxB64) != 0 {
		t.Fatal("Flush should not send a transaction with no dirty symbols")
	}
}

func TestFlushBatchesDirtySymbols(t *testing.T) {
	rpc := &fakeRPC{blockhash: "11111111111111111111111111111111"}
	p, _ := newTestPipeline(t, rpc)

	sym1 := testPubKey(t, 1)
	sym2 := testPubKey(t, 2)
	sym3 := testPubKey(t, 3)
	p.UpdatePrice(sym1, 100, 5, schema.PriceStatusTrading, true)
	p.UpdatePrice(sym2, 200, 6, schema.PriceStatusTrading, true)
	p.UpdatePrice(sym3, 300, 7, schema.PriceStatusTrading, true)

	if err := p.Flush(context.Background(), 50); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// MaxBatchSize=2 over 3 dirty symbols -> two batches, two transactions.
	if len(rpc.sentTxB64) != 2 {
		t.Fatalf("sent %d transactions, want 2", len(rpc.sentTxB64))
	}
	if rpc.signatureCalls != 2 {
		t.Fatalf("signature subscriptions = %d, want 2", rpc.signatureCalls)
	}

	for _, sym := range []keys.PublicKey{sym1, sym2, sym3} {
		stats, ok := p.Stats(sym)
		if !ok {
			t.Fatalf("missing stats for %v", sym)
		}
		if stats.NumSent != 1 {
			t.Fatalf("NumSent = %d, want 1", stats.NumSent)
		}
	}
}

func TestFlushSkippedOnBlockhashFailure(t *testing.T) {
	// A malformed (non-base58) blockhash should surface as a decode error
	// rather than panic.
	rpc := &fakeRPC{blockhash: "not-valid-base58!!"}
	p, _ := newTestPipeline(t, rpc)
	sym := testPubKey(t, 1)
	p.UpdatePrice(sym, 100, 5, schema.PriceStatusTrading, true)

	if err := p.Flush(context.Background(), 10); err == nil {
		t.Fatal("expected decode error for malformed blockhash")
	}
}

func TestClearInflightRecordsRecv(t *testing.T) {
	rpc := &fakeRPC{blockhash: "11111111111111111111111111111111"}
	p, _ := newTestPipeline(t, rpc)
	sym := testPubKey(t, 1)
	p.UpdatePrice(sym, 100, 5, schema.PriceStatusTrading, true)
	if err := p.Flush(context.Background(), 10); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	p.ClearInflight(sym, 10)
	stats, ok := p.Stats(sym)
	if !ok {
		t.Fatal("missing stats")
	}
	if stats.NumRecv != 1 {
		t.Fatalf("NumRecv = %d, want 1", stats.NumRecv)
	}
}

func TestFlushRetiresBatchOnSendTransactionError(t *testing.T) {
	rpc := &fakeRPC{blockhash: "11111111111111111111111111111111", sendErr: errSend}
	p, _ := newTestPipeline(t, rpc)
	sym := testPubKey(t, 1)
	p.UpdatePrice(sym, 100, 5, schema.PriceStatusTrading, true)
	if err := p.Flush(context.Background(), 10); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats, ok := p.Stats(sym)
	if !ok {
		t.Fatal("missing stats")
	}
	if stats.NumSubDrop != 1 {
		t.Fatalf("NumSubDrop = %d, want 1", stats.NumSubDrop)
	}
}

var errSend = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "submission rejected" }
