// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the cloudconnect
// CLI.
//
// A [Command] has a name, an optional [pflag.FlagSet] factory, and
// either a Run function or nested Subcommands. [Command.Execute]
// routes the first positional argument to a subcommand, parses flags,
// and prints structured help for -h, --help or "help". Unknown
// commands and flags get a "did you mean" suggestion when one is
// within edit distance 3.
//
// [NewCommandLogger] picks a text or JSON slog handler depending on
// whether stderr is a terminal. [ExitError] lets a command end with a
// non-zero status without an extra error line.
package cli
