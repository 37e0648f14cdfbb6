// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cloudconnect/cmd/cloudconnect/cli"
	"github.com/bureau-foundation/cloudconnect/lib/broker"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

func registerCommand() *cli.Command {
	var (
		connection connectionFlags
		wait       time.Duration
		hold       bool
		deregister bool
		check      bool
	)
	return &cli.Command{
		Name:    "register",
		Summary: "Register a resource definition",
		Description: "Register a JSON resource definition with the broker and print its\n" +
			"access token once the backend confirms.\n\n" +
			"The registration is released when the last connection that used the\n" +
			"token closes, so by default the command holds its connection until\n" +
			"interrupted and then deregisters.",
		Usage: "cloudconnect register [flags] FILE|-",
		Examples: []cli.Example{
			{Description: "Register and hold until Ctrl-C", Command: "cloudconnect register resources.json"},
			{Description: "Validate a definition without contacting the broker", Command: "cloudconnect register --check resources.json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
			connection.add(flagSet)
			flagSet.DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the registration result")
			flagSet.BoolVar(&hold, "hold", true, "keep the connection, and so the registration, open until interrupted")
			flagSet.BoolVar(&deregister, "deregister", true, "deregister when interrupted")
			flagSet.BoolVar(&check, "check", false, "only parse the definition and print its fingerprint")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("register takes exactly one definition file (or - for stdin)")
			}
			definition, err := readDefinition(args[0])
			if err != nil {
				return err
			}
			if check {
				tree, err := resource.Parse(definition)
				if err != nil {
					return err
				}
				fmt.Printf("%d resources, fingerprint %s\n", tree.Len(), tree.Fingerprint())
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var token string
			if err := connection.call(ctx, func(ctx context.Context) error {
				token, err = client.RegisterResources(ctx, string(definition))
				return err
			}); err != nil {
				return fmt.Errorf("registering: %w", err)
			}

			result, err := awaitRegistration(ctx, client, wait)
			if err != nil {
				return err
			}
			if !result.Status.OK() {
				return fmt.Errorf("registration failed: %w", &status.StatusError{Code: result.Status})
			}
			fmt.Println(token)

			if !hold {
				return nil
			}
			logger := connection.logger()
			logger.Info("holding registration", "token", token)
			if err := holdUntilDone(ctx, client); err != nil {
				return err
			}
			if !deregister {
				return nil
			}
			return connection.call(context.Background(), func(ctx context.Context) error {
				if err := client.DeregisterResources(ctx, token); err != nil {
					return fmt.Errorf("deregistering: %w", err)
				}
				return nil
			})
		},
	}
}

func readDefinition(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func awaitRegistration(ctx context.Context, client *broker.Client, wait time.Duration) (broker.RegistrationResult, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case result, ok := <-client.RegistrationResults():
		if !ok {
			return broker.RegistrationResult{}, fmt.Errorf("broker connection closed before the registration result")
		}
		return result, nil
	case <-timer.C:
		return broker.RegistrationResult{}, fmt.Errorf("no registration result after %v", wait)
	case <-ctx.Done():
		return broker.RegistrationResult{}, ctx.Err()
	}
}

// holdUntilDone waits for ctx, failing early if the broker connection
// ends, which takes the registration with it.
func holdUntilDone(ctx context.Context, client *broker.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-client.RegistrationResults():
			if !ok {
				return fmt.Errorf("broker connection closed")
			}
		}
	}
}

func deregisterCommand() *cli.Command {
	var connection connectionFlags
	return &cli.Command{
		Name:    "deregister",
		Summary: "Remove a registration",
		Usage:   "cloudconnect deregister [flags] TOKEN",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("deregister", pflag.ContinueOnError)
			connection.add(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("deregister takes exactly one token")
			}
			ctx := context.Background()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			return connection.call(ctx, func(ctx context.Context) error {
				return client.DeregisterResources(ctx, args[0])
			})
		},
	}
}
