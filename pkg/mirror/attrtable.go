package mirror

import (
	"sync"

	"github.com/pyth-network/pythd/pkg/schema"
)

// AttrTable interns product attribute key strings into monotonically
// increasing 32-bit ids, deduplicating storage across the thousands of
// product accounts that all reuse the same handful of attribute names
// (symbol, asset_type, quote_currency, ...). It is owned by one Mirror and
// threaded explicitly rather than held as a package-level global (spec §9:
// "global singletons ... should be threaded as explicit context
// parameters").
type AttrTable struct {
	mu    sync.Mutex
	ids   map[string]uint32
	names []string
}

// NewAttrTable returns an empty intern table.
func NewAttrTable() *AttrTable {
	return &AttrTable{ids: make(map[string]uint32)}
}

// Intern returns key's id, assigning the next monotonic id on first sight.
func (t *AttrTable) Intern(key string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[key]; ok {
		return id
	}
	id := uint32(len(t.names))
	t.ids[key] = id
	t.names = append(t.names, key)
	return id
}

// Name resolves an interned id back to its key string.
func (t *AttrTable) Name(id uint32) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

// Attr is one interned key/value attribute, in the product account's wire
// order.
type Attr struct {
	KeyID uint32
	Value string
}

// InternPairs interns every key in pairs and returns the equivalent
// (id, value) sequence, preserving wire order so that iteration over a
// product's attributes yields pairs in insertion order (spec §4.5).
func (t *AttrTable) InternPairs(pairs []schema.AttrPair) []Attr {
	out := make([]Attr, len(pairs))
	for i, p := range pairs {
		out[i] = Attr{KeyID: t.Intern(p.Key), Value: p.Value}
	}
	return out
}
