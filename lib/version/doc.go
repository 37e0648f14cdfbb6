// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the cloudconnect
// binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X. When they are not, [Info] falls back to the VCS stamp
// the Go toolchain embeds in the binary, if any.
//
// [SelfHash] identifies the exact running binary by content, which the
// daemon logs at startup so a broker's behavior can be tied to a build.
package version
