package netio

import (
	"fmt"
	"net"
)

// FanoutUDP sends buf as one datagram to each address in addrs, via a
// shared unconnected PacketConn, collecting every send error rather than
// stopping at the first (the tx forwarder wants a best-effort fan-out).
func FanoutUDP(pc net.PacketConn, addrs []*net.UDPAddr, buf []byte) []error {
	if len(buf) > 65507 {
		errs := make([]error, len(addrs))
		for i := range errs {
			errs[i] = ErrOversized
		}
		return errs
	}
	var errs []error
	for _, a := range addrs {
		if _, err := pc.WriteTo(buf, a); err != nil {
			errs = append(errs, fmt.Errorf("netio: udp send to %s: %w", a, err))
		}
	}
	return errs
}
