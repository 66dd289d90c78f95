package jsonv

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// Tree is a parsed JSON document. It wraps fastjson's arena-based value
// graph (itself a compact, index-addressed node table under the hood) and
// exposes the spec's find/get surface as a thin typed layer (spec §4.2).
type Tree struct {
	root *fastjson.Value
}

// Node is a location within a Tree; it is just the underlying fastjson
// value, kept unexported so callers only see the typed accessors below.
type Node struct {
	v *fastjson.Value
}

// Parse parses buf into a Tree. Partial or malformed input returns an
// error; once parsed the tree assumes the document is well-formed (spec
// §4.2: "tolerates partial inputs... assumes well-formed input once
// complete").
func Parse(buf []byte) (*Tree, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("jsonv: parse: %w", err)
	}
	return &Tree{root: v}, nil
}

// Root returns the document's root node.
func (t *Tree) Root() Node { return Node{v: t.root} }

// FindVal looks up key within the object at parent, returning ok=false if
// parent is not an object or the key is absent.
func (n Node) FindVal(key string) (Node, bool) {
	if n.v == nil || n.v.Type() != fastjson.TypeObject {
		return Node{}, false
	}
	v := n.v.Get(key)
	if v == nil {
		return Node{}, false
	}
	return Node{v: v}, true
}

// Index returns the i'th element of the array at n, or ok=false if n is not
// an array or i is out of range.
func (n Node) Index(i int) (Node, bool) {
	if n.v == nil || n.v.Type() != fastjson.TypeArray {
		return Node{}, false
	}
	arr, err := n.v.Array()
	if err != nil || i < 0 || i >= len(arr) {
		return Node{}, false
	}
	return Node{v: arr[i]}, true
}

// Len returns the number of elements if n is an array, else 0.
func (n Node) Len() int {
	if n.v == nil || n.v.Type() != fastjson.TypeArray {
		return 0
	}
	arr, err := n.v.Array()
	if err != nil {
		return 0
	}
	return len(arr)
}

// Valid reports whether n refers to an actual node (spec's "invalid" result
// for partial/missing lookups).
func (n Node) Valid() bool { return n.v != nil }

// IsNull reports whether n is a JSON null.
func (n Node) IsNull() bool { return n.v != nil && n.v.Type() == fastjson.TypeNull }

// Raw returns n's exact JSON encoding, for callers that want to re-decode a
// subtree (e.g. a "result" object) through encoding/json into a typed
// struct instead of walking it node by node.
func (n Node) Raw() []byte {
	if n.v == nil {
		return nil
	}
	return n.v.MarshalTo(nil)
}

// GetInt returns n's integer value.
func (n Node) GetInt() (int64, error) {
	if n.v == nil {
		return 0, fmt.Errorf("jsonv: GetInt on invalid node")
	}
	return n.v.Int64()
}

// GetUint returns n's unsigned integer value.
func (n Node) GetUint() (uint64, error) {
	if n.v == nil {
		return 0, fmt.Errorf("jsonv: GetUint on invalid node")
	}
	return n.v.Uint64()
}

// GetFloat returns n's floating-point value.
func (n Node) GetFloat() (float64, error) {
	if n.v == nil {
		return 0, fmt.Errorf("jsonv: GetFloat on invalid node")
	}
	return n.v.Float64()
}

// GetBool returns n's boolean value.
func (n Node) GetBool() (bool, error) {
	if n.v == nil {
		return false, fmt.Errorf("jsonv: GetBool on invalid node")
	}
	return n.v.Bool()
}

// GetText returns n's string value (string nodes only; numbers and
// booleans are not stringified).
func (n Node) GetText() (string, error) {
	if n.v == nil {
		return "", fmt.Errorf("jsonv: GetText on invalid node")
	}
	sb, err := n.v.StringBytes()
	if err != nil {
		return "", err
	}
	return string(sb), nil
}

// Keys returns the object member names at n, in document order, or nil if
// n is not an object.
func (n Node) Keys() []string {
	if n.v == nil || n.v.Type() != fastjson.TypeObject {
		return nil
	}
	obj, err := n.v.Object()
	if err != nil {
		return nil
	}
	var keys []string
	obj.Visit(func(key []byte, v *fastjson.Value) {
		keys = append(keys, string(key))
	})
	return keys
}
