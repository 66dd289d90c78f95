// Package perrors holds the daemon's small set of well-known sentinel
// errors and the wrapping helper used at every layer boundary, in place of
// the source's set_err+sentinel-return pattern (spec §9).
package perrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is wrapped into the error the local server returns
	// for a method it does not support, del_publisher included (spec §9
	// open question).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a keyed lookup (account, subscription,
	// request id) misses.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations attempted after shutdown.
	ErrClosed = errors.New("closed")
	// ErrTransport marks a socket-level failure recoverable by reconnect.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks a malformed-message failure that tears the
	// connection down.
	ErrProtocol = errors.New("protocol error")
)

// Wrap annotates err with reason, preserving it for errors.Is/As.
func Wrap(reason string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", reason, err)
}
