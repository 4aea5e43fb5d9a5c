// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// CredentialStore is this replica's local account store. Each call is
// independent; no transaction spans a request. Errors are infrastructure
// failures only, never a negative answer.
type CredentialStore interface {
	// Insert creates the account; false if username is taken.
	Insert(ctx context.Context, username, password string) (bool, error)
	// Exists reports whether username is known here.
	Exists(ctx context.Context, username string) (bool, error)
	// Verify reports whether the credentials match a local account.
	Verify(ctx context.Context, username, password string) (bool, error)
	// Delete removes the account if the credentials match; false otherwise.
	Delete(ctx context.Context, username, password string) (bool, error)
}

// MemoryCredentialStore is an in-process CredentialStore.
type MemoryCredentialStore struct {
	hasher PasswordHasher

	mu    sync.RWMutex
	users map[string]string // username -> password hash
}

// NewMemoryCredentialStore creates an empty store hashing with hasher.
func NewMemoryCredentialStore(hasher PasswordHasher) *MemoryCredentialStore {
	return &MemoryCredentialStore{
		hasher: hasher,
		users:  make(map[string]string),
	}
}

// Insert implements CredentialStore.
func (s *MemoryCredentialStore) Insert(_ context.Context, username, password string) (bool, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, oops.Code("CREDENTIALS_INSERT_FAILED").With("username", username).Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return false, nil
	}
	s.users[username] = hash
	return true, nil
}

// Exists implements CredentialStore.
func (s *MemoryCredentialStore) Exists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

// Verify implements CredentialStore.
func (s *MemoryCredentialStore) Verify(_ context.Context, username, password string) (bool, error) {
	s.mu.RLock()
	hash, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	match, err := s.hasher.Verify(password, hash)
	if err != nil {
		return false, oops.Code("CREDENTIALS_VERIFY_FAILED").With("username", username).Wrap(err)
	}
	return match, nil
}

// Delete implements CredentialStore.
func (s *MemoryCredentialStore) Delete(ctx context.Context, username, password string) (bool, error) {
	match, err := s.Verify(ctx, username, password)
	if err != nil || !match {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return false, nil
	}
	delete(s.users, username)
	return true, nil
}
