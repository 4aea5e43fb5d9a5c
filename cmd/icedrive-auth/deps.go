// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/auth/postgres"
	"github.com/icedrive/authd/internal/auth/sqlite"
	"github.com/icedrive/authd/internal/observability"
	"github.com/icedrive/authd/internal/pubsub"
	"github.com/icedrive/authd/internal/pubsub/pgbus"
	"github.com/icedrive/authd/internal/store"
	"github.com/icedrive/authd/internal/tls"
	"github.com/icedrive/authd/internal/xdg"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the credential store. The returned func releases it.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg *Config) (auth.CredentialStore, func(), error)

	// BusFactory opens the broadcast bus. The returned func releases it.
	// Default: openBus
	BusFactory func(ctx context.Context, cfg *Config) (pubsub.Bus, func(), error)

	// Migrator applies pending migrations when store.auto_migrate is set.
	// Default: migrateUp
	Migrator func(dsn string) error

	// TLSLoader returns server and client mTLS configs.
	// Default: loadTLS
	TLSLoader func(cfg *Config) (server, client *cryptotls.Config, err error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr, version string, ready observability.ReadinessChecker, regs ...observability.Registrar) ObservabilityServer
}

// ObservabilityServer is the part of observability.Server that serve uses.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) setDefaults() {
	if d.StoreFactory == nil {
		d.StoreFactory = openStore
	}
	if d.BusFactory == nil {
		d.BusFactory = openBus
	}
	if d.Migrator == nil {
		d.Migrator = migrateUp
	}
	if d.TLSLoader == nil {
		d.TLSLoader = loadTLS
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr, version string, ready observability.ReadinessChecker, regs ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, version, ready, regs...)
		}
	}
}

// openStore opens the credential store named by cfg.Store.Driver.
func openStore(ctx context.Context, cfg *Config) (auth.CredentialStore, func(), error) {
	hasher := auth.NewArgon2idHasher()

	switch cfg.Store.Driver {
	case driverSQLite:
		path := cfg.Store.DSN
		if path == "" {
			dir, err := xdg.DataDir()
			if err != nil {
				return nil, nil, err
			}
			if err := xdg.EnsureDir(dir); err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, sqlite.DefaultFileName)
		}
		s, err := sqlite.Open(ctx, sqlite.Config{Path: path}, hasher)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case driverPostgres:
		pool, err := store.OpenPool(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewCredentialStore(pool, hasher), pool.Close, nil

	case driverMemory:
		return auth.NewMemoryCredentialStore(hasher), func() {}, nil

	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("store.driver", cfg.Store.Driver).Errorf("unknown store driver")
	}
}

// openBus opens the broadcast bus named by cfg.Bus.Driver.
func openBus(ctx context.Context, cfg *Config) (pubsub.Bus, func(), error) {
	switch cfg.Bus.Driver {
	case driverPostgres:
		pool, err := store.OpenPool(ctx, cfg.Bus.DSN)
		if err != nil {
			return nil, nil, err
		}
		bus := pgbus.New(pool, cfg.Bus.DSN, cfg.Workers)
		return bus, func() {
			_ = bus.Close()
			pool.Close()
		}, nil

	case driverMemory:
		bus := pubsub.NewMemoryBus(cfg.Workers)
		return bus, func() { _ = bus.Close() }, nil

	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("bus.driver", cfg.Bus.Driver).Errorf("unknown bus driver")
	}
}

// loadTLS ensures this node has a certificate and returns its mTLS configs.
func loadTLS(cfg *Config) (*cryptotls.Config, *cryptotls.Config, error) {
	dir, err := cfg.certsDir()
	if err != nil {
		return nil, nil, err
	}
	hosts := []string{}
	if cfg.AdvertiseAddr != "" {
		hosts = append(hosts, hostOf(cfg.AdvertiseAddr))
	}
	if err := tls.EnsureNode(dir, cfg.TLS.ClusterID, cfg.TLS.NodeName, hosts...); err != nil {
		return nil, nil, err
	}
	server, err := tls.ServerConfig(dir, cfg.TLS.NodeName)
	if err != nil {
		return nil, nil, err
	}
	client, err := tls.ClientConfig(dir, cfg.TLS.NodeName)
	if err != nil {
		return nil, nil, err
	}
	return server, client, nil
}
