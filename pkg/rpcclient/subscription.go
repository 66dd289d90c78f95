package rpcclient

import "github.com/pyth-network/pythd/pkg/jsonv"

// Subscription is a live WebSocket subscription. Notify is invoked for
// every notification body delivered under this subscription's id; if it
// returns true the subscription is torn down automatically (spec §4.3:
// "notifications that return true from notify() are auto-unsubscribed").
type Subscription struct {
	ID     uint64
	Method string
	Notify func(body jsonv.Node) (unsubscribe bool)

	errCh chan error
}

// Err returns the subscription's error channel; it receives at most one
// value, sent when the underlying connection is torn down, and is then
// closed.
func (s *Subscription) Err() <-chan error { return s.errCh }
