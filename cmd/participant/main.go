// Package main implements the coordsvc participant process: a single
// peer-symmetric node in a distributed coordination service, combining
// session management, a hierarchical entry namespace, advisory locking
// and client-side caching with server-driven invalidation.
//
// Each participant is a full member of the coordination engine: it
// holds its own session against the shared backing store, serves
// exchange-protocol frames from its peers, and exposes no operator
// API of its own beyond health and metrics — callers embed this
// binary's internal/participant package directly, or drive it through
// a thin front end that is not part of this repository.
//
// Configuration (internal/config, SPEC_FULL.md §6.2):
//   - --config: path to a JSONC config file (default: none, falling
//     back to the global and per-project config file locations)
//   - --listen-addr: HTTP bind address for the exchange endpoint
//   - --lease-length, --multiplex-prefix, --storage-backend,
//     --storage-path, --metrics-addr: see internal/config
//
// Example usage:
//
//	./participant --listen-addr :7100 --storage-backend badger \
//	  --storage-path /var/lib/coordsvc/node-a --metrics-addr :7101
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dreamware/coordsvc/internal/config"
	"github.com/dreamware/coordsvc/internal/exchange"
	"github.com/dreamware/coordsvc/internal/metrics"
	"github.com/dreamware/coordsvc/internal/participant"
	"github.com/dreamware/coordsvc/internal/sessionid"
	"github.com/dreamware/coordsvc/internal/storage"
)

// logFatal is a variable to allow replacing it in tests without
// terminating the test process.
var logFatal = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("participant", flag.ExitOnError)
	flags := config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logFatal("participant: parse flags: %v", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		logFatal("participant: getwd: %v", err)
	}
	cfg, sources, err := config.Load(workDir, flags.ConfigPath())
	if err != nil {
		logFatal("participant: load config: %v", err)
	}
	cfg, err = flags.Apply(cfg)
	if err != nil {
		logFatal("participant: apply flags: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("participant: build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("participant: configuration loaded",
		zap.String("global_config", sources.Global),
		zap.String("project_config", sources.Project),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.Duration("lease_length", time.Duration(cfg.LeaseLength)),
	)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logFatal("participant: open storage: %v", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	addr, listener := bindExchangeListener(cfg.ListenAddr, logger)
	defer listener.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := participant.New(ctx, participant.Options{
		Store:       store,
		Transport:   exchange.NewHTTPTransport(cfg),
		Address:     sessionid.Address(addr),
		LeaseLength: time.Duration(cfg.LeaseLength),
		CounterFile: cfg.StoragePath + ".session-counter",
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		logFatal("participant: construct: %v", err)
	}
	logger.Info("participant: session established", zap.String("session_id", string(p.Self())))

	mux := http.NewServeMux()
	mux.Handle("/coordsvc/exchange", p.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logFatal("participant: exchange listener: %v", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("participant: metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("participant: metrics listener failed", zap.Error(err))
			}
		}()
	}

	terminated := make(chan struct{})
	p.Start(ctx, func() {
		logger.Warn("participant: local session terminated out from under the process")
		close(terminated)
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("participant: shutdown signal received")
	case <-terminated:
		logger.Warn("participant: shutting down after session termination")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("participant: exchange listener shutdown error", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("participant: metrics listener shutdown error", zap.Error(err))
		}
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Warn("participant: session end error", zap.Error(err))
	}
	logger.Info("participant: stopped")
}

// openStore constructs the configured backing store and returns a
// cleanup func that closes it (a no-op for the in-memory backend).
func openStore(cfg config.Config) (storage.Store, func(), error) {
	switch cfg.StorageBackend {
	case "badger":
		store, err := storage.OpenBadgerStore(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}

// bindExchangeListener opens the exchange endpoint's listener up
// front so the participant's minted session id can embed the actual
// bound address (relevant when listen_addr ends in ":0").
func bindExchangeListener(listenAddr string, logger *zap.Logger) (string, net.Listener) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logFatal("participant: listen on %q: %v", listenAddr, err)
	}
	logger.Info("participant: exchange listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), ln
}
