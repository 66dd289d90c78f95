package manager

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds every key spec §6.5 recognises, read by both the manager
// and (the subset it shares with) the tx-forwarder service.
type Config struct {
	// RPCHost is "host[:rpc_port[:ws_port]]"; an empty host defaults to
	// localhost, rpc_port defaults to 8899, ws_port defaults to rpc_port+1.
	RPCHost string
	// KeyStoreDir is the directory holding publish_key_pair.json,
	// mapping_key.json and program_key.json.
	KeyStoreDir string
	// ListenPort is the local publisher protocol's bind address (e.g. ":8910").
	ListenPort string
	// TxHost is the tx-forwarder's client port, empty disables forwarding
	// through it (sendTransaction is used instead).
	TxHost string
	// Commitment is "processed", "confirmed", or "finalized".
	Commitment string
	// PublishIntervalMs, when positive, starts a coarse flush ticker that
	// runs alongside slot-driven publishing and sets the notify_price_sched
	// cadence. Slot-driven publishing is always on; 0 disables the ticker and
	// leaves the cadence at DefaultScheduleInterval.
	PublishIntervalMs int
	// CaptureFile, when non-empty, names a capture file that New opens; the
	// manager writes no records to it.
	CaptureFile string
	// MaxBatchSize caps instructions per publish transaction (0 = default).
	MaxBatchSize int
	// CUUnits and CUPrice configure a compute-budget request; 0 disables it.
	CUUnits uint32
	CUPrice uint64
	// MetricsPort serves GET /metrics when non-zero (spec §6.6, ambient).
	MetricsPort int
	// LogLevel is passed to pythlog.New.
	LogLevel string
}

// ResolveRPCHost splits Config.RPCHost into its HTTP and WebSocket URLs.
func (c Config) ResolveRPCHost() (httpURL, wsURL string, err error) {
	host, rpcPort, wsPort := "localhost", 8899, 0
	if c.RPCHost != "" {
		parts := strings.Split(c.RPCHost, ":")
		if parts[0] != "" {
			host = parts[0]
		}
		if len(parts) >= 2 && parts[1] != "" {
			rpcPort, err = strconv.Atoi(parts[1])
			if err != nil {
				return "", "", fmt.Errorf("manager: invalid rpc_port in rpc_host %q: %w", c.RPCHost, err)
			}
		}
		if len(parts) >= 3 && parts[2] != "" {
			wsPort, err = strconv.Atoi(parts[2])
			if err != nil {
				return "", "", fmt.Errorf("manager: invalid ws_port in rpc_host %q: %w", c.RPCHost, err)
			}
		}
	}
	if wsPort == 0 {
		wsPort = rpcPort + 1
	}
	httpURL = fmt.Sprintf("http://%s:%d", host, rpcPort)
	wsURL = fmt.Sprintf("ws://%s:%d", host, wsPort)
	return httpURL, wsURL, nil
}
