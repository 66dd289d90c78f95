// Command pythtxsvr is the standalone transaction-forwarder service: it
// keeps a rolling Solana leader schedule and fans out transactions
// submitted on its TCP client port to the current leaders' TPU addresses
// over UDP (spec §4.7).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/manager"
	"github.com/pyth-network/pythd/pkg/pythlog"
	"github.com/pyth-network/pythd/pkg/rpcclient"
	"github.com/pyth-network/pythd/pkg/txservice"
)

// pollInterval is how often the connector's reconnect state machine is
// advanced, mirroring tx_svr's busy-mode poll of a socket not yet ready.
const pollInterval = time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pythtxsvr: config: %v\n", err)
		return 1
	}

	log, err := pythlog.New(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pythtxsvr: logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.Error("udp socket failed", zap.Error(err))
		return 1
	}
	defer udp.Close()

	fwd := txservice.NewForwarder(udp, log)

	httpURL, wsURL, err := manager.Config{RPCHost: cfg.rpcHost}.ResolveRPCHost()
	if err != nil {
		log.Error("bad rpc host", zap.Error(err))
		return 1
	}
	conn := txservice.NewConnector(fwd, httpURL, wsURL, cfg.commitment, rpcclient.Dial, log)

	ln, err := txservice.NewListener(cfg.listenPort, fwd, log)
	if err != nil {
		log.Error("listener failed", zap.Error(err))
		return 1
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	go pollConnector(ctx, conn)

	errCh := make(chan error, 1)
	go func() { errCh <- ln.Serve() }()

	log.Info("pythtxsvr listening", zap.Stringer("addr", ln.Addr()))
	select {
	case <-ctx.Done():
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error("listener stopped", zap.Error(err))
			return 1
		}
		return 0
	}
}

func pollConnector(ctx context.Context, conn *txservice.Connector) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.Poll(ctx)
		}
	}
}

type config struct {
	rpcHost    string
	listenPort string
	commitment string
	logLevel   string
}

func loadConfig() (config, error) {
	flag.String("config", "", "path to a pythtxsvr.yaml config file")
	flag.String("rpc-host", "", "Solana RPC host[:rpc_port[:ws_port]]")
	flag.String("listen-port", ":8898", "tx-forwarder client port")
	flag.String("commitment", "confirmed", "processed | confirmed | finalized")
	flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return config{}, fmt.Errorf("bind flags: %w", err)
	}

	viper.SetEnvPrefix("pythtxsvr")
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pythtxsvr")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/pythd")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	return config{
		rpcHost:    viper.GetString("rpc-host"),
		listenPort: viper.GetString("listen-port"),
		commitment: viper.GetString("commitment"),
		logLevel:   viper.GetString("log-level"),
	}, nil
}
