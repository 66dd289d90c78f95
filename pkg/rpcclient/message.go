package rpcclient

import (
	"encoding/json"
	"fmt"

	"github.com/pyth-network/pythd/pkg/jsonv"
)

// buildRequest renders a JSON-RPC 2.0 request object:
// {"jsonrpc":"2.0","id":N,"method":...,"params":[...]}, as spec §4.3 calls
// for. params are marshaled individually through encoding/json for caller
// ergonomics (the teacher's CallContext takes ...any params the same way),
// then spliced into the jsonv.Writer as raw tokens.
func buildRequest(id uint64, method string, params []interface{}) ([]byte, error) {
	w := jsonv.NewWriter()
	w.StartObject()
	w.Key("jsonrpc")
	w.String("2.0")
	w.Key("id")
	w.Uint(id)
	w.Key("method")
	w.String(method)
	w.Key("params")
	w.StartArray()
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: marshal param: %w", err)
		}
		w.Raw(raw)
	}
	w.EndArray()
	w.EndObject()
	return w.Bytes(), nil
}

// rpcError mirrors a JSON-RPC error object.
type rpcError struct {
	Code    int64
	Message string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpcclient: rpc error %d: %s", e.Code, e.Message)
}

// envelope is the result of classifying one parsed JSON-RPC message: either
// a response correlated by id (hasID and id set, with result or err) or a
// notification carrying a subscription id (hasSub and subID set, notifyBody
// holding the notification payload).
type envelope struct {
	hasID      bool
	id         uint64
	result     jsonv.Node
	err        *rpcError
	method     string
	hasSub     bool
	subID      uint64
	notifyBody jsonv.Node
}

// parseEnvelope classifies one parsed top-level JSON-RPC object, matching
// spec §4.3's receive logic: dispatch by id if present, else by
// params.subscription for notifications.
func parseEnvelope(tree *jsonv.Tree) (envelope, error) {
	root := tree.Root()
	var e envelope

	if idNode, ok := root.FindVal("id"); ok && !idNode.IsNull() {
		id, err := idNode.GetUint()
		if err != nil {
			return e, fmt.Errorf("rpcclient: non-numeric id: %w", err)
		}
		e.hasID = true
		e.id = id
		if errNode, ok := root.FindVal("error"); ok {
			code, _ := mustField(errNode, "code").GetInt()
			msg, _ := mustField(errNode, "message").GetText()
			e.err = &rpcError{Code: code, Message: msg}
			return e, nil
		}
		if res, ok := root.FindVal("result"); ok {
			e.result = res
		}
		return e, nil
	}

	if methodNode, ok := root.FindVal("method"); ok {
		method, _ := methodNode.GetText()
		e.method = method
		if params, ok := root.FindVal("params"); ok {
			if subNode, ok := params.FindVal("subscription"); ok {
				if subID, err := subNode.GetUint(); err == nil {
					e.hasSub = true
					e.subID = subID
				}
			}
			if result, ok := params.FindVal("result"); ok {
				e.notifyBody = result
			} else {
				e.notifyBody = params
			}
		}
		return e, nil
	}

	return e, fmt.Errorf("rpcclient: message has neither id nor method")
}

func mustField(n jsonv.Node, key string) jsonv.Node {
	v, _ := n.FindVal(key)
	return v
}
