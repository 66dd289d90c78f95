// Command pythd is the publisher daemon: it hosts the local publisher
// protocol, mirrors the oracle's product/price graph, and batches client
// price updates into signed upd_price transactions on every slot (spec
// §4.8).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pyth-network/pythd/pkg/manager"
	"github.com/pyth-network/pythd/pkg/pythlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pythd: config: %v\n", err)
		return 1
	}

	log, err := pythlog.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pythd: logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	mgr, err := manager.New(ctx, cfg, log)
	if err != nil {
		log.Error("init failed", zap.Error(err))
		return 1
	}

	if cfg.MetricsPort != 0 {
		srv := startMetricsServer(cfg.MetricsPort, mgr, log)
		defer srv.Close()
	}

	if runErr := mgr.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("run failed", zap.Error(runErr))
		return 1
	}
	return 0
}

// loadConfig binds every flag below to the viper key of the same dashed
// name (rpc-host, key-store-dir, ...) and reads each key from the flags,
// from PYTHD_-prefixed environment variables with dashes written as
// underscores (PYTHD_RPC_HOST), and from a YAML file keyed by the same
// dashed names, in viper's usual override order (flag > env > file >
// default). Underscore spellings such as rpc_host are not read from the file.
func loadConfig() (manager.Config, error) {
	flag.String("config", "", "path to a pythd.yaml config file")
	flag.String("rpc-host", "", "Solana RPC host[:rpc_port[:ws_port]]")
	flag.String("tx-host", "", "tx-forwarder host:port")
	flag.String("key-store-dir", "", "directory holding publish/mapping/program key files")
	flag.String("listen-port", ":8910", "local publisher protocol bind address")
	flag.String("commitment", "confirmed", "processed | confirmed | finalized")
	flag.Int("publish-interval-ms", 0, "coarse publish tick in milliseconds (0 disables)")
	flag.String("capture-file", "", "open a capture file at this path (no records are written to it)")
	flag.Int("max-batch-size", 0, "instructions per publish transaction (0 = default)")
	flag.Uint32("cu-units", 0, "compute-unit limit request (0 disables)")
	flag.Uint64("cu-price", 0, "compute-unit price in micro-lamports (0 disables)")
	flag.Int("metrics-port", 9001, "Prometheus /metrics port (0 disables)")
	flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return manager.Config{}, fmt.Errorf("bind flags: %w", err)
	}

	viper.SetEnvPrefix("pythd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("pythd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/pythd")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return manager.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := manager.Config{
		RPCHost:           viper.GetString("rpc-host"),
		KeyStoreDir:       viper.GetString("key-store-dir"),
		ListenPort:        viper.GetString("listen-port"),
		TxHost:            viper.GetString("tx-host"),
		Commitment:        viper.GetString("commitment"),
		PublishIntervalMs: viper.GetInt("publish-interval-ms"),
		CaptureFile:       viper.GetString("capture-file"),
		MaxBatchSize:      viper.GetInt("max-batch-size"),
		CUUnits:           uint32(viper.GetUint32("cu-units")),
		CUPrice:           viper.GetUint64("cu-price"),
		MetricsPort:       viper.GetInt("metrics-port"),
		LogLevel:          viper.GetString("log-level"),
	}
	if cfg.KeyStoreDir == "" {
		return manager.Config{}, errors.New("key-store-dir is required")
	}
	return cfg, nil
}

func startMetricsServer(port int, mgr *manager.Manager, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mgr.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
