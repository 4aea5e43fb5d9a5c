// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

//go:build integration

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/icedrive/authd/internal/store"
	"github.com/icedrive/authd/internal/store/pgtest"
)

var _ = Describe("Migrator", func() {
	var (
		ctx     context.Context
		dsn     string
		cleanup func()
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dsn, cleanup, err = pgtest.StartPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	It("runs the full up/down cycle", func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2}))

		Expect(migrator.Up()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	It("creates the tables the replica uses", func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()
		Expect(migrator.Up()).To(Succeed())

		pool, err := store.OpenPool(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		for _, table := range []string{"users", "pubsub_topics"} {
			var exists bool
			Expect(pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
				table).Scan(&exists)).To(Succeed())
			Expect(exists).To(BeTrue(), table)
		}
	})
})
