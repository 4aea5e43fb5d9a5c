// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package auth implements one replica of the IceDrive authentication service.
//
// # Sessions
//
// SessionManager mints and tracks Sessions. A session belongs to the replica
// that minted it and never moves; other replicas learn of it only through
// verify queries.
//
// # Coordinator
//
// Coordinator serves login, new user, remove user and verify user. Each
// operation asks the local CredentialStore or SessionManager first and, when
// that is not conclusive, broadcasts a query through a Querier and waits a
// bounded time for a sibling to answer. What silence means depends on the
// operation:
//   - Login, RemoveUser: silence fails with ErrUnauthorized
//   - NewUser: silence means the name is free and the account is created here
//   - VerifyUser: silence means false
//
// # Receiver
//
// QueryReceiver is the other half of the fallback. It answers sibling queries
// from local data only and never broadcasts, so a query cannot cascade.
package auth
