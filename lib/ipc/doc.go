// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc is a small bus-style message transport over Unix stream
// sockets: method calls, replies, errors and signals carried as CBOR
// [Frame] values.
//
// A server opens an [Endpoint], exports interfaces on object paths,
// and requests a well-known name, which binds
// "<socket dir>/<name>.sock". Every accepted connection gets a unique
// name (":1.1", ":1.2", ...) used as its [ConnectionID]. The endpoint
// never calls back into its owner: inbound calls and peer disconnects
// are queued, [Endpoint.Readable] signals that the queue is non-empty,
// and the owner drains it with [Endpoint.Next] on its own goroutine.
// That makes the endpoint a plain readiness source for an event loop.
//
// Frames are length-delimited: a 4-byte big-endian length, then the
// CBOR-encoded frame. Bodies are CBOR arrays holding the arguments
// declared by the frame's signature, optionally compressed with LZ4 or
// zstd.
//
// Signatures use the D-Bus type alphabet: "s" string, "i" int32,
// "u" uint32, "x" int64, "t" uint64, "d" float64, "b" bool,
// "y" byte, "v" variant, "a" array of the following type, and
// "(...)" struct. [Client] is the matching caller side.
package ipc
