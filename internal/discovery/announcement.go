// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package discovery

import (
	"encoding/json"

	"github.com/samber/oops"

	"github.com/icedrive/authd/internal/ref"
)

// Kind names an IceDrive service.
type Kind string

// Service kinds announced on the discovery topic.
const (
	KindAuthentication Kind = "authentication"
	KindDirectory      Kind = "directory"
	KindBlob           Kind = "blob"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindAuthentication, KindDirectory, KindBlob}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAuthentication, KindDirectory, KindBlob:
		return true
	default:
		return false
	}
}

// Announcement says "a service of Kind is reachable at Ref".
type Announcement struct {
	Kind Kind    `json:"kind"`
	Ref  ref.Ref `json:"ref"`
}

// Encode marshals a for publishing.
func (a Announcement) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, oops.Code("DISCOVERY_ENCODE_FAILED").With("kind", string(a.Kind)).Wrap(err)
	}
	return data, nil
}

// DecodeAnnouncement parses and validates a discovery payload.
func DecodeAnnouncement(payload []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return Announcement{}, oops.Code("DISCOVERY_MALFORMED").Wrap(err)
	}
	if !a.Kind.Valid() {
		return Announcement{}, oops.Code("DISCOVERY_MALFORMED").
			With("kind", string(a.Kind)).
			Errorf("unknown service kind")
	}
	if a.Ref.IsZero() || a.Ref.Addr == "" {
		return Announcement{}, oops.Code("DISCOVERY_MALFORMED").
			With("kind", string(a.Kind)).
			Errorf("announcement without a reachable reference")
	}
	return a, nil
}
