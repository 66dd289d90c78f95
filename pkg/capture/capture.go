// Package capture implements the optional append-only account-snapshot
// recorder (spec §6.4): a single auxiliary goroutine receives filled
// buffers over a channel, gzip-compresses them, and appends them to a
// capture file. This is an out-of-scope *feature* for the publisher (spec
// §1 Non-goals) — nothing in the daemon enables it by default — but the
// interface boundary and wire format are kept so a future replay tool, or
// a future capture-enabling config, has somewhere to plug in.
package capture

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pyth-network/pythd/pkg/keys"
)

// Record is one capture entry: the account's observed wall-clock time,
// its public key, and the raw account bytes, laid out exactly as spec
// §6.4 describes (`i64 timestamp | 32-byte pub_key | account bytes`).
type Record struct {
	Timestamp int64
	PubKey    keys.PublicKey
	Account   []byte
}

func (r Record) encode() []byte {
	buf := make([]byte, 8+keys.PublicKeyLength+len(r.Account))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Timestamp))
	copy(buf[8:8+keys.PublicKeyLength], r.PubKey[:])
	copy(buf[8+keys.PublicKeyLength:], r.Account)
	return buf
}

// Writer owns the capture file and its single background goroutine. The
// main event-loop thread only ever calls Write, which enqueues onto a
// buffered channel; the goroutine drains it, compresses, and writes,
// mirroring the source's pend_/done_/reuse_ buffer hand-off without
// needing the teacher's own mutex+condvar machinery — a channel is the
// idiomatic Go equivalent of that hand-off queue.
type Writer struct {
	records chan Record
	done    chan struct{}
	errs    chan error
}

// Open creates a new capture file at path (".gz" appended if missing) and
// starts its writer goroutine. It refuses to overwrite an existing file,
// matching capture::init's stat-and-reject guard.
func Open(path string) (*Writer, error) {
	if len(path) < 3 || path[len(path)-3:] != ".gz" {
		path += ".gz"
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("capture: file already exists: %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", path, err)
	}

	w := &Writer{
		records: make(chan Record, 256),
		done:    make(chan struct{}),
		errs:    make(chan error, 1),
	}
	go w.run(f)
	return w, nil
}

func (w *Writer) run(f *os.File) {
	defer close(w.done)
	defer f.Close()
	zw := gzip.NewWriter(f)
	defer zw.Close()

	for rec := range w.records {
		if _, err := zw.Write(rec.encode()); err != nil {
			select {
			case w.errs <- err:
			default:
			}
			return
		}
	}
}

// Write enqueues an account snapshot for capture. Never blocks the caller
// on disk or compression I/O; it only blocks if the internal queue is
// full, which bounds memory rather than stalling indefinitely.
func (w *Writer) Write(pub keys.PublicKey, timestamp int64, account []byte) {
	w.records <- Record{Timestamp: timestamp, PubKey: pub, Account: append([]byte(nil), account...)}
}

// Close stops accepting new records, flushes and closes the file, and
// waits for the writer goroutine to exit. Returns the first write error
// encountered, if any.
func (w *Writer) Close() error {
	close(w.records)
	<-w.done
	select {
	case err := <-w.errs:
		return err
	default:
		return nil
	}
}
