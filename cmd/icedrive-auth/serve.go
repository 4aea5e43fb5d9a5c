// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/discovery"
	rpc "github.com/icedrive/authd/internal/grpc"
	"github.com/icedrive/authd/internal/logging"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/replica"
	"github.com/icedrive/authd/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an authentication replica",
		Long: `Run an authentication replica until SIGINT or SIGTERM. The replica serves
gRPC, answers sibling queries, and announces itself on the discovery topic.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, nil)
		},
	}
	registerServeFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs a replica until ctx ends. If deps is nil, default
// implementations are used.
func runServeWithDeps(ctx context.Context, cfg *Config, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.setDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetDefault(logging.Options{Version: version, Format: cfg.LogFormat, Level: level})

	slog.Info("starting replica",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store.Driver,
		"bus", cfg.Bus.Driver,
		"tls", cfg.TLS.Enabled)

	if cfg.Store.AutoMigrate {
		for _, dsn := range postgresDSNs(cfg) {
			if err := deps.Migrator(dsn); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
			}
		}
	}

	creds, closeStore, err := deps.StoreFactory(ctx, cfg)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}
	defer closeStore()

	bus, closeBus, err := deps.BusFactory(ctx, cfg)
	if err != nil {
		return oops.Code("BUS_OPEN_FAILED").With("driver", cfg.Bus.Driver).Wrap(err)
	}
	defer closeBus()

	rcfg := replica.Config{
		ListenAddr:       cfg.ListenAddr,
		AdvertiseAddr:    cfg.AdvertiseAddr,
		DiscoveryTopic:   cfg.Topics.Discovery,
		QueryTopic:       cfg.Topics.Query,
		SessionTTL:       cfg.Session.TTL,
		QueryTimeout:     cfg.Query.Timeout,
		AnnounceInterval: cfg.Announce.Interval,
		ProbeTimeout:     cfg.Probe.Timeout,
	}
	if cfg.TLS.Enabled {
		serverTLS, clientTLS, err := deps.TLSLoader(cfg)
		if err != nil {
			return oops.Code("TLS_SETUP_FAILED").Wrap(err)
		}
		rcfg.TLSConfig = serverTLS
		rcfg.Client.TLSConfig = clientTLS
	}

	r, err := replica.New(rcfg, creds, bus)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}

	var obsErr <-chan error
	var obs ObservabilityServer
	if cfg.MetricsAddr != "" {
		obs = deps.ObservabilityServerFactory(cfg.MetricsAddr, version, r.Ready,
			auth.RegisterMetrics, query.RegisterMetrics, discovery.RegisterMetrics, rpc.RegisterMetrics)
		obsErr, err = obs.Start()
		if err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = r.Stop(stopCtx) //nolint:errcheck // start error takes precedence
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
	}

	slog.Info("replica ready", "self", r.Self().String())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err, ok := <-obsErr:
		if ok && err != nil {
			runErr = oops.Code("OBSERVABILITY_FAILED").Wrap(err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		errutil.LogError(slog.Default(), "replica stop failed", err)
	}
	if obs != nil {
		if err := obs.Stop(stopCtx); err != nil {
			errutil.LogError(slog.Default(), "observability server stop failed", err)
		}
	}
	slog.Info("replica stopped")
	return runErr
}

// postgresDSNs lists the distinct postgres DSNs the configuration uses.
func postgresDSNs(cfg *Config) []string {
	var dsns []string
	if cfg.Store.Driver == driverPostgres {
		dsns = append(dsns, cfg.Store.DSN)
	}
	if cfg.Bus.Driver == driverPostgres && (len(dsns) == 0 || dsns[0] != cfg.Bus.DSN) {
		dsns = append(dsns, cfg.Bus.DSN)
	}
	return dsns
}

// hostOf strips the port from addr when there is one.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
