// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the single CBOR configuration used by the
// broker's IPC transport.
//
// Every IPC frame, call body and reply body is CBOR. The encoder uses
// Core Deterministic Encoding (RFC 8949 §4.2), so the same logical
// value always produces the same bytes; tests compare encoded frames
// directly.
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
//
// # Struct tags
//
//   - `cbor` tags mark types that only ever travel over the IPC socket
//     (ipc.Frame, method argument tuples).
//   - `json` tags mark types that are also printed as JSON by the CLI
//     (resource.Value, broker.Snapshot). fxamacker/cbor falls back to
//     `json` tags when no `cbor` tag is present.
//
// Method arguments that the signature declares as structs, such as the
// "(sv)" entries of SetResourcesValues, use `cbor:",toarray"` so they
// encode as CBOR arrays in declaration order.
package codec
