// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Cloud
// Connect daemon.
//
// Configuration is loaded from a single file specified by either the
// CLOUDCONNECT_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic file search. A daemon
// started without either runs on [Default].
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without a section gets a
// warn log level and a slower heartbeat.
//
// paths.socket_dir is expanded after loading: ${HOME} and
// ${VAR:-default} patterns resolve against the process environment.
// Durations are Go duration strings ("50ms", "30s").
//
// This package depends on no other cloudconnect packages.
package config
