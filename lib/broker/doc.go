// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the Cloud Connect resource broker: the IPC service
// through which local applications register a resource tree with the
// device-management client and then read and write its values.
//
// Two types make up the service. [Reactor] owns the event loop, the
// IPC endpoint and the mailbox through which other goroutines reach
// the loop. It validates every inbound call (destination, object
// path, interface, member, signature) and hands only well-formed calls
// to its [CallHandler]. [Broker] is that handler: it owns the reactor
// and the table of registration records, and runs the reactor on a
// dedicated goroutine between [Broker.Start] and [Broker.Stop].
//
// Everything the loop touches (records, tracked connections, pending
// calls, the reactor state) is mutated only on the reactor goroutine.
// The one cross-goroutine path is [Reactor.Stop], which from any
// other goroutine travels through the mailbox as an exit message.
//
// Registration is single-tenant: at most one record exists at a time,
// and while it is being registered or is registered, further
// RegisterResources calls are rejected. RegisterResources returns the
// access token immediately; the outcome arrives later as the
// RegistrationResult signal on the calling connection.
// DeregisterResources replies only once the backend has confirmed or
// refused.
//
// A record stays alive while at least one connection that referenced
// its token is open. A new connection adopts a token simply by using
// it. When the last tracked connection closes, the record is
// destroyed, or, if a backend request is still in flight, orphaned:
// its token stops working at once and the record is destroyed when the
// backend answers, deregistering first if the registration succeeded.
package broker
