// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Cloudconnect-daemon runs the Cloud Connect resource broker. It owns
// the com.bureau.CloudConnect name on a unix socket, accepts at most
// one registration of a resource tree at a time, and forwards it to
// the device-management backend.
//
// Configuration comes from --config, then $CLOUDCONNECT_CONFIG, then
// built-in defaults. The daemon runs until SIGINT or SIGTERM, or until
// the broker stops on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cloudconnect/lib/broker"
	"github.com/bureau-foundation/cloudconnect/lib/config"
	"github.com/bureau-foundation/cloudconnect/lib/devicemgmt"
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/status"
	"github.com/bureau-foundation/cloudconnect/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		socketDir   string
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("cloudconnect-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default $"+config.EnvVar+", then built-in defaults)")
	flagSet.StringVar(&socketDir, "socket-dir", "", "override paths.socket_dir")
	flagSet.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 0 {
		return fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketDir != "" {
		cfg.Paths.SocketDir = socketDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if hash, binaryPath, err := version.SelfHash(); err == nil {
		logger.Info("starting cloudconnect-daemon",
			"version", version.Info(),
			"binary", binaryPath,
			"blake3", hash,
			"environment", cfg.Environment,
		)
	} else {
		logger.Warn("cannot hash own binary", "error", err)
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	compression, err := ipc.ParseCompression(cfg.IPC.Compression)
	if err != nil {
		return err
	}

	service, err := broker.New(broker.Options{
		Endpoint: ipc.EndpointOptions{
			SocketDir:         cfg.Paths.SocketDir,
			MaxFrameSize:      cfg.IPC.MaxFrameSize,
			Compression:       compression,
			CompressThreshold: cfg.IPC.CompressThreshold,
			WriteTimeout:      cfg.WriteTimeout(),
			OutboundCapacity:  cfg.IPC.OutboundCapacity,
			Logger:            logger,
		},
		ServiceName:       cfg.Service.Name,
		MailboxCapacity:   cfg.Service.MailboxCapacity,
		MailboxTimeout:    cfg.MailboxTimeout(),
		HeartbeatInterval: cfg.Heartbeat(),
		Backend:           backend,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	if err := service.Start(); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	logger.Info("broker listening", "socket", service.SocketPath())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return service.Stop()
	case <-service.Done():
		// The broker stopped on its own; Stop collects its error.
		return service.Stop()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvVar) != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

// newBackend builds the device-management client. An empty failure
// name means the operation succeeds.
func newBackend(cfg *config.Config, logger *slog.Logger) (devicemgmt.Client, error) {
	parseFailure := func(field, name string) (status.Code, error) {
		if name == "" {
			return status.Success, nil
		}
		code, err := status.Parse(name)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return code, nil
	}
	registrationFailure, err := parseFailure("backend.registration_failure", cfg.Backend.RegistrationFailure)
	if err != nil {
		return nil, err
	}
	deregistrationFailure, err := parseFailure("backend.deregistration_failure", cfg.Backend.DeregistrationFailure)
	if err != nil {
		return nil, err
	}
	return devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{
		Delay:                 cfg.BackendDelay(),
		RegistrationFailure:   registrationFailure,
		DeregistrationFailure: deregistrationFailure,
		Logger:                logger.With("component", "devicemgmt"),
	}), nil
}
