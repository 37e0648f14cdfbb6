// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cloudconnect/cmd/cloudconnect/cli"
	"github.com/bureau-foundation/cloudconnect/lib/broker"
	"github.com/bureau-foundation/cloudconnect/lib/config"
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/version"
)

func root() *cli.Command {
	return &cli.Command{
		Name:    "cloudconnect",
		Summary: "Cloud Connect resource broker client",
		Description: "Client for the Cloud Connect resource broker.\n\n" +
			"The broker socket is found through --socket-dir, then --config or\n" +
			"CLOUDCONNECT_CONFIG, then the default runtime directory.",
		Subcommands: []*cli.Command{
			registerCommand(),
			deregisterCommand(),
			getCommand(),
			setCommand(),
			statusCommand(),
			watchCommand(),
			versionCommand(),
		},
	}
}

// connectionFlags locate and reach the broker. Every command that
// talks to the broker embeds them.
type connectionFlags struct {
	configPath string
	socketDir  string
	service    string
	timeout    time.Duration
	verbose    bool
}

func (f *connectionFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "daemon config file to read the socket location from")
	flagSet.StringVar(&f.socketDir, "socket-dir", "", "directory holding the broker socket")
	flagSet.StringVar(&f.service, "service", broker.ServiceName, "broker service name")
	flagSet.DurationVar(&f.timeout, "timeout", 10*time.Second, "timeout for each broker call")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log transport details")
}

func (f *connectionFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(level)
}

// resolveSocketDir applies the lookup order described in the root
// help.
func (f *connectionFlags) resolveSocketDir() (string, error) {
	if f.socketDir != "" {
		return f.socketDir, nil
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if f.service == broker.ServiceName && cfg.Service.Name != "" {
		f.service = cfg.Service.Name
	}
	return cfg.Paths.SocketDir, nil
}

func (f *connectionFlags) dial(ctx context.Context) (*broker.Client, error) {
	socketDir, err := f.resolveSocketDir()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	client, err := broker.Dial(dialCtx, broker.ClientOptions{
		SocketDir:   socketDir,
		ServiceName: f.service,
		IPC:         ipc.ClientOptions{Logger: f.logger()},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", ipc.SocketPath(socketDir, f.service), err)
	}
	return client, nil
}

// call runs fn with a context bounded by --timeout.
func (f *connectionFlags) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return fn(callCtx)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Printf("cloudconnect %s\n", version.Full())
			return nil
		},
	}
}
