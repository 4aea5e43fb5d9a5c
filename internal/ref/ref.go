// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

// Package ref provides opaque callable references to objects hosted by a replica.
package ref

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new monotonic ULID.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// Ref identifies an object hosted by a replica. Identity is the ID;
// Addr only says where the object can be reached.
type Ref struct {
	ID   ulid.ULID `json:"id"`
	Addr string    `json:"addr"`
}

// New creates a reference to a fresh identity hosted at addr.
func New(addr string) Ref {
	return Ref{ID: NewID(), Addr: addr}
}

// IsZero reports whether r carries no identity.
func (r Ref) IsZero() bool {
	return r.ID.Compare(ulid.ULID{}) == 0
}

// SameIdentity reports whether r and other name the same object.
func (r Ref) SameIdentity(other Ref) bool {
	return r.ID == other.ID
}

// String returns the "<ULID>@<addr>" form accepted by Parse.
func (r Ref) String() string {
	return r.ID.String() + "@" + r.Addr
}

// Parse parses a reference in "<ULID>@<addr>" form.
func Parse(s string) (Ref, error) {
	idPart, addr, found := strings.Cut(s, "@")
	if !found || addr == "" {
		return Ref{}, oops.Code("REF_INVALID").
			With("ref", s).
			Errorf("reference must have the form <id>@<host:port>")
	}
	id, err := ulid.Parse(idPart)
	if err != nil {
		return Ref{}, oops.Code("REF_INVALID").
			With("ref", s).
			Wrap(err)
	}
	return Ref{ID: id, Addr: addr}, nil
}
