// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package pgtest starts throwaway PostgreSQL containers for integration tests.
package pgtest

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/icedrive/authd/internal/store"
)

// StartPostgres runs a PostgreSQL container and returns its DSN and a cleanup
// function that terminates it.
func StartPostgres(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("icedrive_test"),
		postgres.WithUsername("icedrive"),
		postgres.WithPassword("icedrive"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, err //nolint:wrapcheck // test helper
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err //nolint:wrapcheck // test helper
	}

	cleanup := func() {
		_ = container.Terminate(context.Background())
	}
	return dsn, cleanup, nil
}

// StartMigrated is StartPostgres followed by applying every migration.
func StartMigrated(ctx context.Context) (string, func(), error) {
	dsn, cleanup, err := StartPostgres(ctx)
	if err != nil {
		return "", nil, err
	}
	migrator, err := store.NewMigrator(dsn)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer migrator.Close()
	if err := migrator.Up(); err != nil {
		cleanup()
		return "", nil, err
	}
	return dsn, cleanup, nil
}
