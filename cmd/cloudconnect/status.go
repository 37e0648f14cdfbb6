// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cloudconnect/cmd/cloudconnect/cli"
	"github.com/bureau-foundation/cloudconnect/lib/broker"
	"github.com/bureau-foundation/cloudconnect/lib/codec"
)

func writeSnapshot(w io.Writer, snapshot broker.Snapshot) error {
	fmt.Fprintf(w, "state: %s  connections: %d  pending calls: %d  heartbeats: %d\n",
		snapshot.State, snapshot.Connections, snapshot.PendingCalls, snapshot.Heartbeats)
	if len(snapshot.Records) == 0 {
		fmt.Fprintln(w, "no registrations")
		return nil
	}
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(table, "TOKEN\tSTATE\tRESOURCES\tCONNECTIONS\tFINGERPRINT")
	for _, record := range snapshot.Records {
		state := record.State
		if record.Orphaned {
			state += " (orphaned)"
		}
		fmt.Fprintf(table, "%s…\t%s\t%d\t%d\t%s\n",
			record.TokenPrefix, state, record.Resources, record.Connections, record.Fingerprint)
	}
	return table.Flush()
}

func statusCommand() *cli.Command {
	var (
		connection connectionFlags
		output     cli.JSONOutput
		raw        bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show broker state",
		Usage:   "cloudconnect status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			connection.add(flagSet)
			output.AddFlag(flagSet)
			flagSet.BoolVar(&raw, "raw", false, "print the reply in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			ctx := context.Background()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var snapshot broker.Snapshot
			if err := connection.call(ctx, func(ctx context.Context) error {
				snapshot, err = client.Status(ctx)
				return err
			}); err != nil {
				return err
			}

			if raw {
				encoded, err := codec.Marshal(snapshot)
				if err != nil {
					return err
				}
				notation, err := codec.Diagnose(encoded)
				if err != nil {
					return err
				}
				fmt.Println(notation)
				return nil
			}
			if done, err := output.Emit(os.Stdout, snapshot); done {
				return err
			}
			return writeSnapshot(os.Stdout, snapshot)
		},
	}
}

func watchCommand() *cli.Command {
	var (
		connection connectionFlags
		interval   time.Duration
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Print broker state whenever it changes",
		Usage:   "cloudconnect watch [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			connection.add(flagSet)
			flagSet.DurationVar(&interval, "interval", time.Second, "polling interval")
			return flagSet
		},
		Run: func(args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			var previous *broker.Snapshot
			for {
				var snapshot broker.Snapshot
				if err := connection.call(ctx, func(ctx context.Context) error {
					snapshot, err = client.Status(ctx)
					return err
				}); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				// Heartbeats tick on their own; only report real changes.
				compare := snapshot
				compare.Heartbeats = 0
				if previous == nil || !reflect.DeepEqual(*previous, compare) {
					fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
					if err := writeSnapshot(os.Stdout, snapshot); err != nil {
						return err
					}
					previous = &compare
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}
