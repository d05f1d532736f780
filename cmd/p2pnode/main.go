package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"

	"github.com/libbitcoin/network/internal/config"
	"github.com/libbitcoin/network/internal/errcode"
	"github.com/libbitcoin/network/internal/hosts"
	"github.com/libbitcoin/network/internal/logging"
	"github.com/libbitcoin/network/internal/mailbox"
	"github.com/libbitcoin/network/internal/metrics"
	"github.com/libbitcoin/network/internal/network"
	"github.com/libbitcoin/network/internal/session"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(settings.Logging, settings.Identity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	registry := metrics.NewRegistry()
	pool := mailbox.NewPool(settings.Network.Threads)
	net := network.New(pool, settings, logger, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopSample := make(chan struct{})
	go metrics.SampleLoop(registry, 5*time.Second, stopSample)

	var autosaver *hosts.Autosaver
	net.Pool.Load(func(code errcode.Code) {
		if code != errcode.Success {
			logger.Warn("host pool load failed", zap.String("code", code.String()))
			return
		}
		logger.Info("host pool loaded", zap.Int("count", net.Pool.Count()))
	})

	autosaver, err = hosts.NewAutosaver(net.Pool, "@every 5m", logger)
	if err != nil {
		logger.Fatal("autosaver schedule invalid", zap.Error(err))
	}
	autosaver.Start()

	outbound := session.NewOutbound(net, logger)
	inbound := session.NewInbound(net, logger)
	manual := session.NewManual(net, logger)

	startPeers := func() {
		outbound.Start()
		inbound.Start(settings.Lists.Binds)
		manual.Start(settings.Lists.Peers)
	}

	if net.Pool.Count() < settings.Address.MinimumAddressCount && len(settings.Lists.Seeds) > 0 {
		seed := session.NewSeed(net, logger, func(code errcode.Code) {
			logger.Info("seeding complete", zap.String("code", code.String()))
			startPeers()
		})
		seed.Start(settings.Lists.Seeds)
	} else {
		startPeers()
	}

	httpErrCh := make(chan error, 1)
	if settings.Metrics.Enabled {
		go func() {
			httpErrCh <- runHTTPServer(ctx, settings, net, registry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	close(stopSample)
	autosaver.Stop()
	net.Pool.Save(func(code errcode.Code) {
		if code != errcode.Success {
			logger.Warn("host pool save failed", zap.String("code", code.String()))
		}
	})

	outbound.Stop(errcode.ServiceStopped)
	inbound.Stop(errcode.ServiceStopped)
	manual.Stop(errcode.ServiceStopped)
	logger.Info("node stopped")
}

func runHTTPServer(ctx context.Context, settings config.Settings, net *network.Net, registry *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"pool_size": net.Pool.Count(),
			"reserved":  net.Pool.ReservedCount(),
		})
	})

	mux.Handle(settings.Metrics.Endpoint, registry.Handler())

	httpServer := &http.Server{
		Addr:         settings.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", settings.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
