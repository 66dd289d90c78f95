// Package jsonv implements the strict-JSON writer the RPC client uses to
// build outbound requests, and a typed tree wrapper around
// github.com/valyala/fastjson for parsing inbound messages.
package jsonv

import (
	"strconv"
)

type scope int

const (
	scopeObject scope = iota
	scopeArray
)

// Writer emits strict JSON incrementally, tracking object/array nesting on
// an explicit stack so commas and brackets land in the right place (spec
// §4.2). It writes into an in-memory buffer; callers hand the result to
// netio.WriteQueue.QueueSend or netio.WriteHTTPRequest.
type Writer struct {
	buf       []byte
	stack     []scope
	needComma []bool
	afterKey  bool
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the bytes written so far. The writer must be balanced
// (every StartObject/StartArray closed) for the result to be valid JSON.
func (w *Writer) Bytes() []byte { return w.buf }

// beforeValue is called immediately before emitting any value token. It
// places a separating comma when another sibling already occupies the
// current scope, except right after Key, where the colon already separates
// the key from its value.
func (w *Writer) beforeValue() {
	if w.afterKey {
		w.afterKey = false
		return
	}
	if len(w.stack) == 0 {
		return
	}
	top := len(w.stack) - 1
	if w.needComma[top] {
		w.buf = append(w.buf, ',')
	}
	w.needComma[top] = true
}

// Key writes an object key; must be called while the innermost scope is an object.
func (w *Writer) Key(k string) {
	w.afterKey = false // a prior dangling key without a value is a caller bug
	top := len(w.stack) - 1
	if top >= 0 && w.needComma[top] {
		w.buf = append(w.buf, ',')
	}
	if top >= 0 {
		w.needComma[top] = true
	}
	w.writeQuoted(k)
	w.buf = append(w.buf, ':')
	w.afterKey = true
}

// StartObject opens a `{` scope.
func (w *Writer) StartObject() {
	w.beforeValue()
	w.buf = append(w.buf, '{')
	w.stack = append(w.stack, scopeObject)
	w.needComma = append(w.needComma, false)
}

// EndObject closes the innermost object scope with `}`.
func (w *Writer) EndObject() {
	w.buf = append(w.buf, '}')
	w.popScope()
}

// StartArray opens a `[` scope.
func (w *Writer) StartArray() {
	w.beforeValue()
	w.buf = append(w.buf, '[')
	w.stack = append(w.stack, scopeArray)
	w.needComma = append(w.needComma, false)
}

// EndArray closes the innermost array scope with `]`.
func (w *Writer) EndArray() {
	w.buf = append(w.buf, ']')
	w.popScope()
}

func (w *Writer) popScope() {
	w.stack = w.stack[:len(w.stack)-1]
	w.needComma = w.needComma[:len(w.needComma)-1]
}

// String writes a quoted, escaped string value.
func (w *Writer) String(s string) {
	w.beforeValue()
	w.writeQuoted(s)
}

// Int writes a signed integer value.
func (w *Writer) Int(v int64) {
	w.beforeValue()
	w.buf = strconv.AppendInt(w.buf, v, 10)
}

// Uint writes an unsigned integer value.
func (w *Writer) Uint(v uint64) {
	w.beforeValue()
	w.buf = strconv.AppendUint(w.buf, v, 10)
}

// Bool writes a boolean value.
func (w *Writer) Bool(v bool) {
	w.beforeValue()
	w.buf = strconv.AppendBool(w.buf, v)
}

// Null writes a JSON null.
func (w *Writer) Null() {
	w.beforeValue()
	w.buf = append(w.buf, "null"...)
}

// Raw writes pre-encoded JSON verbatim, e.g. a value built by another Writer.
func (w *Writer) Raw(b []byte) {
	w.beforeValue()
	w.buf = append(w.buf, b...)
}

func (w *Writer) writeQuoted(s string) {
	w.buf = append(w.buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			w.buf = append(w.buf, '\\', '"')
		case '\\':
			w.buf = append(w.buf, '\\', '\\')
		case '\n':
			w.buf = append(w.buf, '\\', 'n')
		case '\r':
			w.buf = append(w.buf, '\\', 'r')
		case '\t':
			w.buf = append(w.buf, '\\', 't')
		default:
			if r < 0x20 {
				w.buf = append(w.buf, '\\', 'u')
				w.buf = append(w.buf, hexDigits(uint16(r))...)
			} else {
				w.buf = append(w.buf, string(r)...)
			}
		}
	}
	w.buf = append(w.buf, '"')
}

func hexDigits(v uint16) []byte {
	const hex = "0123456789abcdef"
	return []byte{
		hex[(v>>12)&0xf],
		hex[(v>>8)&0xf],
		hex[(v>>4)&0xf],
		hex[v&0xf],
	}
}
