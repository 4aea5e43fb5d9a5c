// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/icedrive/authd/internal/auth"
	"github.com/icedrive/authd/internal/auth/postgres"
)

var _ = Describe("CredentialStore", func() {
	var (
		ctx   context.Context
		creds *postgres.CredentialStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		creds = postgres.NewCredentialStore(testPool, auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 1, Memory: 64, Threads: 1, SaltLen: 8, KeyLen: 16,
		}))
		_, err := testPool.Exec(ctx, `TRUNCATE users`)
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores hashes, never plaintext", func() {
		Expect(creds.Insert(ctx, "alice", "secret")).To(BeTrue())

		var hash string
		Expect(testPool.QueryRow(ctx, `SELECT password_hash FROM users WHERE username = 'alice'`).Scan(&hash)).To(Succeed())
		Expect(hash).To(HavePrefix("$argon2id$"))
		Expect(hash).NotTo(ContainSubstring("secret"))
	})

	It("reports duplicates as false", func() {
		Expect(creds.Insert(ctx, "alice", "secret")).To(BeTrue())
		Expect(creds.Insert(ctx, "alice", "other")).To(BeFalse())
	})

	It("verifies and deletes with the right password only", func() {
		Expect(creds.Insert(ctx, "bob", "secret")).To(BeTrue())
		Expect(creds.Exists(ctx, "bob")).To(BeTrue())
		Expect(creds.Verify(ctx, "bob", "secret")).To(BeTrue())
		Expect(creds.Verify(ctx, "bob", "nope")).To(BeFalse())

		Expect(creds.Delete(ctx, "bob", "nope")).To(BeFalse())
		Expect(creds.Delete(ctx, "bob", "secret")).To(BeTrue())
		Expect(creds.Exists(ctx, "bob")).To(BeFalse())
		Expect(creds.Delete(ctx, "bob", "secret")).To(BeFalse())
	})

	It("lets exactly one concurrent insert win", func() {
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				ok, err := creds.Insert(ctx, "carol", "pw")
				Expect(err).NotTo(HaveOccurred())
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(wins).To(Equal(1))
	})
})
