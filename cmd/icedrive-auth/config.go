// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/discovery"
	"github.com/icedrive/authd/internal/logging"
	"github.com/icedrive/authd/internal/query"
	"github.com/icedrive/authd/internal/replica"
	"github.com/icedrive/authd/internal/xdg"
)

// Store and bus drivers.
const (
	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Default values for serve flags.
const (
	defaultListenAddr  = "localhost:9000"
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
	defaultWorkers     = 8
	defaultNodeName    = "replica"
	defaultClusterID   = "icedrive"
)

// Config is the replica configuration, loaded from an optional YAML file
// overlaid with command-line flags.
type Config struct {
	ListenAddr    string `koanf:"listen_addr"`
	AdvertiseAddr string `koanf:"advertise_addr"`
	MetricsAddr   string `koanf:"metrics_addr"`
	LogFormat     string `koanf:"log_format"`
	LogLevel      string `koanf:"log_level"`
	Workers       int    `koanf:"workers"`

	Store struct {
		Driver      string `koanf:"driver"`
		DSN         string `koanf:"dsn"`
		AutoMigrate bool   `koanf:"auto_migrate"`
	} `koanf:"store"`

	Bus struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"bus"`

	Topics struct {
		Discovery string `koanf:"discovery"`
		Query     string `koanf:"query"`
	} `koanf:"topics"`

	Session struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"session"`

	Query struct {
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"query"`

	Announce struct {
		Interval time.Duration `koanf:"interval"`
	} `koanf:"announce"`

	Probe struct {
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"probe"`

	TLS struct {
		Enabled   bool   `koanf:"enabled"`
		CertsDir  string `koanf:"certs_dir"`
		NodeName  string `koanf:"node_name"`
		ClusterID string `koanf:"cluster_id"`
	} `koanf:"tls"`
}

// flagKeys maps serve flag names onto config keys.
var flagKeys = map[string]string{
	"listen":            "listen_addr",
	"advertise":         "advertise_addr",
	"metrics-addr":      "metrics_addr",
	"log-format":        "log_format",
	"log-level":         "log_level",
	"workers":           "workers",
	"store-driver":      "store.driver",
	"store-dsn":         "store.dsn",
	"auto-migrate":      "store.auto_migrate",
	"bus-driver":        "bus.driver",
	"bus-dsn":           "bus.dsn",
	"discovery-topic":   "topics.discovery",
	"query-topic":       "topics.query",
	"session-ttl":       "session.ttl",
	"query-timeout":     "query.timeout",
	"announce-interval": "announce.interval",
	"probe-timeout":     "probe.timeout",
	"tls":               "tls.enabled",
	"certs-dir":         "tls.certs_dir",
	"node-name":         "tls.node_name",
	"cluster-id":        "tls.cluster_id",
}

// registerServeFlags declares every configurable key as a flag. Flag
// defaults are the configuration defaults.
func registerServeFlags(fs *pflag.FlagSet) {
	fs.String("listen", defaultListenAddr, "gRPC listen address")
	fs.String("advertise", "", "address peers use to reach this replica (default: bound listen address)")
	fs.String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", defaultLogFormat, "log format (json or text)")
	fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.Int("workers", defaultWorkers, "concurrent message deliveries per bus")
	fs.String("store-driver", driverMemory, "credential store (memory, sqlite, postgres)")
	fs.String("store-dsn", "", "credential store DSN or sqlite path (postgres default: DATABASE_URL)")
	fs.Bool("auto-migrate", false, "apply pending postgres migrations before serving")
	fs.String("bus-driver", driverMemory, "broadcast bus (memory, postgres)")
	fs.String("bus-dsn", "", "bus DSN (postgres default: DATABASE_URL)")
	fs.String("discovery-topic", replica.DefaultDiscoveryTopic, "discovery topic name")
	fs.String("query-topic", replica.DefaultQueryTopic, "query topic name")
	fs.Duration("session-ttl", auth.DefaultSessionTTL, "session lifetime without refresh")
	fs.Duration("query-timeout", query.DefaultTimeout, "how long to wait for sibling answers")
	fs.Duration("announce-interval", discovery.DefaultAnnounceInterval, "discovery announcement period")
	fs.Duration("probe-timeout", discovery.DefaultProbeTimeout, "peer liveness probe timeout")
	fs.Bool("tls", false, "use mutual TLS between replicas")
	fs.String("certs-dir", "", "certificates directory (default: XDG_CONFIG_HOME/icedrive/certs)")
	fs.String("node-name", defaultNodeName, "certificate name of this replica")
	fs.String("cluster-id", defaultClusterID, "cluster identifier embedded in the CA")
}

// loadConfig reads path (or the XDG default when it exists) and overlays
// the flags that were set explicitly.
func loadConfig(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		if def, err := xdg.ConfigFile(); err == nil {
			if _, statErr := os.Stat(def); statErr == nil {
				path = def
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	cfg.applyEnv()
	return &cfg, nil
}

// applyEnv fills empty postgres DSNs from DATABASE_URL.
func (cfg *Config) applyEnv() {
	url := os.Getenv("DATABASE_URL")
	if cfg.Store.Driver == driverPostgres && cfg.Store.DSN == "" {
		cfg.Store.DSN = url
	}
	if cfg.Bus.Driver == driverPostgres && cfg.Bus.DSN == "" {
		cfg.Bus.DSN = url
	}
}

// Validate checks that the configuration is usable.
func (cfg *Config) Validate() error {
	var errs []error
	invalid := func(key, format string, args ...any) {
		errs = append(errs, oops.With("key", key).Errorf(format, args...))
	}

	if cfg.ListenAddr == "" {
		invalid("listen_addr", "listen_addr is required")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		invalid("log_format", "log_format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		invalid("log_level", "log_level must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	if cfg.Workers < 1 {
		invalid("workers", "workers must be at least 1, got %d", cfg.Workers)
	}

	switch cfg.Store.Driver {
	case driverMemory, driverSQLite:
	case driverPostgres:
		if cfg.Store.DSN == "" {
			invalid("store.dsn", "store.dsn or DATABASE_URL is required for the postgres store")
		}
	default:
		invalid("store.driver", "store.driver must be memory, sqlite or postgres, got %q", cfg.Store.Driver)
	}

	switch cfg.Bus.Driver {
	case driverMemory:
	case driverPostgres:
		if cfg.Bus.DSN == "" {
			invalid("bus.dsn", "bus.dsn or DATABASE_URL is required for the postgres bus")
		}
	default:
		invalid("bus.driver", "bus.driver must be memory or postgres, got %q", cfg.Bus.Driver)
	}

	if cfg.Topics.Discovery == "" || cfg.Topics.Query == "" {
		invalid("topics", "topic names must not be empty")
	} else if cfg.Topics.Discovery == cfg.Topics.Query {
		invalid("topics", "discovery and query topics must differ")
	}

	for key, d := range map[string]time.Duration{
		"session.ttl":       cfg.Session.TTL,
		"query.timeout":     cfg.Query.Timeout,
		"announce.interval": cfg.Announce.Interval,
		"probe.timeout":     cfg.Probe.Timeout,
	} {
		if d <= 0 {
			invalid(key, "%s must be positive, got %s", key, d)
		}
	}

	if cfg.TLS.Enabled && cfg.TLS.NodeName == "" {
		invalid("tls.node_name", "tls.node_name is required when tls is enabled")
	}

	if len(errs) > 0 {
		return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	return nil
}

// certsDir returns the configured certificates directory or the XDG default.
func (cfg *Config) certsDir() (string, error) {
	if cfg.TLS.CertsDir != "" {
		return cfg.TLS.CertsDir, nil
	}
	return defaultCertsDir()
}

func defaultCertsDir() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "certs"), nil
}
