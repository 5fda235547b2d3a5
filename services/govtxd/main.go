// Package govtxd is the governance transaction daemon: it exposes the typed
// builders over HTTP, streams tracker lifecycles and serves the history log.
package govtxd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"nounsgov/observability/logging"
	telemetry "nounsgov/observability/otel"
)

// PassphraseSource resolves the keystore passphrase for a wallet config.
type PassphraseSource func(cfg WalletConfig) func() (string, error)

// RuntimeOptions maps the daemon configuration onto the shared runtime.
func (c Config) RuntimeOptions(pass func() (string, error), logger *slog.Logger) RuntimeOptions {
	opts := RuntimeOptions{
		Network:              c.Network,
		NetworksFile:         c.NetworksFile,
		RPCURL:               c.RPCURL,
		SubgraphURL:          c.Subgraph.URL,
		SubgraphKey:          c.Subgraph.APIKey,
		Keystore:             c.Wallet.Keystore,
		Passphrase:           pass,
		GasMultiplierPercent: c.Pipeline.GasMultiplierPercent,
		ReceiptTimeout:       c.Pipeline.ReceiptTimeout.Duration,
		PollInterval:         c.Pipeline.PollInterval.Duration,
		Simulate:             c.Pipeline.Simulate,
		SignatureLifetime:    c.Pipeline.SignatureLifetime.Duration,
		Logger:               logger,
	}
	if !c.History.Disabled {
		opts.HistoryDriver = c.History.Driver
		opts.HistoryDSN = c.History.DSN
	}
	return opts
}

// Main initialises and runs the daemon until SIGINT or SIGTERM.
func Main(passphrase PassphraseSource) error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/govtxd/config.yaml", "path to govtxd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("govtxd", cfg.Environment,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "govtxd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := NewRuntime(stopCtx, cfg.RuntimeOptions(passphrase(cfg.Wallet), logger))
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.Close()

	limiter := NewRateLimiter(cfg.RateLimit)
	serverOpts := []ServerOption{
		WithServerLogger(logger),
		WithAuthenticator(NewAuthenticator(cfg.Auth, logger)),
		WithRateLimiter(limiter),
		WithMetricsRoute(cfg.MetricsAddress == ""),
	}
	if rt.History != nil {
		serverOpts = append(serverOpts, WithHistoryReader(rt.History))
	}
	server := NewServer(rt.Pipeline, rt.Actions, serverOpts...)

	servers := []*http.Server{{
		Addr:              cfg.ListenAddress,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	g, ctx := errgroup.WithContext(stopCtx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return housekeeping(ctx, rt, limiter, cfg.Pipeline.TrackerTTL.Duration, logger)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var firstErr error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})
	if err := g.Wait(); err != nil {
		logger.Error("govtxd stopped", slog.Any("error", err))
		return err
	}
	logger.Info("govtxd stopped")
	return nil
}

// housekeeping prunes settled trackers and idle rate-limit buckets.
func housekeeping(ctx context.Context, rt *Runtime, limiter *RateLimiter, ttl time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			pruned := rt.Pipeline.Prune(now.Add(-ttl))
			swept := limiter.Sweep()
			if pruned > 0 || swept > 0 {
				logger.Debug("housekeeping", slog.Int("trackers", pruned), slog.Int("visitors", swept))
			}
		}
	}
}

// ExitOnError prints err and exits non-zero.
func ExitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
