// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cloudconnect is the command-line client of the Cloud Connect resource
// broker. It registers resource definitions, reads and writes resource
// values, and reports broker state.
//
// A registration lives only as long as some connection that used its
// token stays open, so "cloudconnect register" holds its connection
// until interrupted. Other invocations adopt the token while it runs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/cloudconnect/cmd/cloudconnect/cli"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own per-entry results exit
		// non-zero through an ExitError without an extra line.
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}
