// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

// Snapshot is a point-in-time copy of broker state, returned by
// GetStatus and Broker.Snapshot. It never carries full access tokens.
type Snapshot struct {
	State        string           `json:"state"`
	Connections  int              `json:"connections"`
	PendingCalls int              `json:"pending_calls"`
	Heartbeats   uint64           `json:"heartbeats"`
	Records      []RecordSnapshot `json:"records,omitempty"`
}

// RecordSnapshot describes one registration record.
type RecordSnapshot struct {
	TokenPrefix string `json:"token_prefix"`
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint"`
	Resources   int    `json:"resources"`
	Connections int    `json:"connections"`
	Orphaned    bool   `json:"orphaned,omitempty"`
}
