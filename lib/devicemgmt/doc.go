// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicemgmt is the broker's view of the device-management
// client that registers resource trees with the cloud.
//
// Registration and deregistration are asynchronous: [Client.BeginRegister]
// and [Client.BeginDeregister] return as soon as the request is
// started, and the outcome arrives later through [Callbacks] on the
// event loop that was attached with [Client.Attach]. A backend never
// calls back from any other goroutine.
//
// [Simulated] is a backend that confirms or fails requests after a
// configurable delay, using self-events on the attached loop. The
// daemon uses it when no cloud stack is configured, and tests use it to
// drive the broker end to end.
package devicemgmt
