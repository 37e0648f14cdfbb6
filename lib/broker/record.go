// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
)

// recordState tracks a registration through the backend.
type recordState uint8

const (
	recordRegistering recordState = iota + 1
	recordRegistered
	recordDeregistering
)

func (s recordState) String() string {
	switch s {
	case recordRegistering:
		return "registering"
	case recordRegistered:
		return "registered"
	case recordDeregistering:
		return "deregistering"
	default:
		return "unknown"
	}
}

// registrationRecord is one registered (or registering) resource tree
// and the connections that keep it alive.
type registrationRecord struct {
	token       string
	state       recordState
	tree        *resource.Tree
	fingerprint resource.Fingerprint

	// origin receives the RegistrationResult signal.
	origin ipc.ConnectionID

	// connections is every open connection that has used token.
	connections map[ipc.ConnectionID]struct{}

	// orphaned is set when the last tracked connection closed while a
	// backend request was in flight. The token no longer resolves.
	orphaned bool
}

func newRecord(token string, tree *resource.Tree, origin ipc.ConnectionID) *registrationRecord {
	return &registrationRecord{
		token:       token,
		state:       recordRegistering,
		tree:        tree,
		fingerprint: tree.Fingerprint(),
		origin:      origin,
		connections: map[ipc.ConnectionID]struct{}{origin: {}},
	}
}

// tokenPrefix is the part of the token that is safe to log and report.
func (r *registrationRecord) tokenPrefix() string {
	if len(r.token) <= 8 {
		return r.token
	}
	return r.token[:8]
}
