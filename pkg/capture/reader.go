package capture

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pyth-network/pythd/pkg/keys"
)

const accountHeaderSize = 16 // schema.AccountHeader: magic|version|type|size, all u32 LE

// Reader sequentially replays a capture file (spec §6.4: "Replay is
// sequential"), decoding each record's length from the embedded account
// header's Size field rather than any outer framing, the same way
// capture::write never wrote a record length itself.
type Reader struct {
	zr *gzip.Reader
}

// NewReader opens a gzip capture stream for sequential replay.
func NewReader(r io.Reader) (*Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: open gzip stream: %w", err)
	}
	return &Reader{zr: zr}, nil
}

// Next reads one record, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Record, error) {
	var prefix [8 + keys.PublicKeyLength + accountHeaderSize]byte
	if _, err := io.ReadFull(r.zr, prefix[:]); err != nil {
		return Record{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(prefix[0:8]))
	pub, err := keys.PublicKeyFromBytes(prefix[8 : 8+keys.PublicKeyLength])
	if err != nil {
		return Record{}, err
	}
	header := prefix[8+keys.PublicKeyLength:]
	size := binary.LittleEndian.Uint32(header[12:16])
	if size < accountHeaderSize {
		return Record{}, fmt.Errorf("capture: implausible account size %d", size)
	}
	account := make([]byte, size)
	copy(account, header)
	if _, err := io.ReadFull(r.zr, account[accountHeaderSize:]); err != nil {
		return Record{}, err
	}
	return Record{Timestamp: ts, PubKey: pub, Account: account}, nil
}

// Close releases the underlying gzip reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}
