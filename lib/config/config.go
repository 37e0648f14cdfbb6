// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/cloudconnect/lib/eventloop"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "CLOUDCONNECT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the daemon configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	Paths   PathsConfig   `yaml:"paths"`
	Service ServiceConfig `yaml:"service"`
	IPC     IPCConfig     `yaml:"ipc"`
	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Only non-empty values replace the base.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Service *ServiceConfig `yaml:"service,omitempty"`
	IPC     *IPCConfig     `yaml:"ipc,omitempty"`
	Backend *BackendConfig `yaml:"backend,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// SocketDir holds the service socket.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/cloudconnect
	SocketDir string `yaml:"socket_dir"`
}

// ServiceConfig configures the broker service.
type ServiceConfig struct {
	// Name is the well-known service name; the socket is
	// <socket_dir>/<name>.sock.
	Name string `yaml:"name"`

	// MailboxCapacity bounds the control mailbox. Default: 16
	MailboxCapacity int `yaml:"mailbox_capacity"`

	// MailboxTimeout bounds a blocked mailbox send. Default: 50ms
	MailboxTimeout string `yaml:"mailbox_timeout"`

	// Heartbeat is the state-logging period; "0" disables it.
	// Default: 30s
	Heartbeat string `yaml:"heartbeat"`
}

// IPCConfig configures the IPC transport.
type IPCConfig struct {
	// MaxFrameSize in bytes. Default: 1 MiB
	MaxFrameSize int `yaml:"max_frame_size"`

	// WriteTimeout bounds each frame write to a client. Default: 5s
	WriteTimeout string `yaml:"write_timeout"`

	// Compression of large frame bodies: none, lz4 or zstd.
	// Default: none
	Compression string `yaml:"compression"`

	// CompressThreshold is the smallest body compressed. Default: 1024
	CompressThreshold int `yaml:"compress_threshold"`

	// OutboundCapacity is the per-connection queue of unsent frames.
	// Default: 64
	OutboundCapacity int `yaml:"outbound_capacity"`
}

// BackendConfig selects the device-management backend.
type BackendConfig struct {
	// Kind of backend. Only "simulated" exists.
	Kind string `yaml:"kind"`

	// Delay before the simulated backend answers. Default: 0s
	Delay string `yaml:"delay"`

	// RegistrationFailure and DeregistrationFailure, when set, are the
	// status names the simulated backend fails with.
	RegistrationFailure   string `yaml:"registration_failure"`
	DeregistrationFailure string `yaml:"deregistration_failure"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is json or text. Default: json
	Format string `yaml:"format"`
}

// Default returns the default configuration. Every field has a usable
// value, so a config file only needs to name what it changes.
func Default() *Config {
	cfg := &Config{
		Environment: Development,
		Paths: PathsConfig{
			SocketDir: "${XDG_RUNTIME_DIR:-/tmp}/cloudconnect",
		},
		Service: ServiceConfig{
			Name:            "com.bureau.CloudConnect",
			MailboxCapacity: 16,
			MailboxTimeout:  "50ms",
			Heartbeat:       "30s",
		},
		IPC: IPCConfig{
			MaxFrameSize:      1 << 20,
			WriteTimeout:      "5s",
			Compression:       "none",
			CompressThreshold: 1024,
			OutboundCapacity:  64,
		},
		Backend: BackendConfig{
			Kind:  "simulated",
			Delay: "0s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.expandVariables()
	return cfg
}

// Load loads configuration from the file named by CLOUDCONNECT_CONFIG.
// There is no fallback: an unset variable is an error.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your cloudconnect.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, then applies
// the matching environment section and expands ${VAR} references in
// paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: quieter logs, no heartbeat noise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Service: &ServiceConfig{Heartbeat: "5m"},
				Log:     &LogConfig{Level: "warn"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		override(&c.Paths.SocketDir, overrides.Paths.SocketDir)
	}
	if service := overrides.Service; service != nil {
		override(&c.Service.Name, service.Name)
		override(&c.Service.MailboxCapacity, service.MailboxCapacity)
		override(&c.Service.MailboxTimeout, service.MailboxTimeout)
		override(&c.Service.Heartbeat, service.Heartbeat)
	}
	if ipc := overrides.IPC; ipc != nil {
		override(&c.IPC.MaxFrameSize, ipc.MaxFrameSize)
		override(&c.IPC.WriteTimeout, ipc.WriteTimeout)
		override(&c.IPC.Compression, ipc.Compression)
		override(&c.IPC.CompressThreshold, ipc.CompressThreshold)
		override(&c.IPC.OutboundCapacity, ipc.OutboundCapacity)
	}
	if backend := overrides.Backend; backend != nil {
		override(&c.Backend.Kind, backend.Kind)
		override(&c.Backend.Delay, backend.Delay)
		override(&c.Backend.RegistrationFailure, backend.RegistrationFailure)
		override(&c.Backend.DeregistrationFailure, backend.DeregistrationFailure)
	}
	if log := overrides.Log; log != nil {
		override(&c.Log.Level, log.Level)
		override(&c.Log.Format, log.Format)
	}
}

func override[V comparable](target *V, value V) {
	var zero V
	if value != zero {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.SocketDir = expandVars(c.Paths.SocketDir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Status names in the
// backend section are checked by the daemon, which owns the status
// table.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.SocketDir == "" {
		errs = append(errs, fmt.Errorf("paths.socket_dir is required"))
	}
	if c.Service.Name == "" {
		errs = append(errs, fmt.Errorf("service.name is required"))
	}
	if c.Service.MailboxCapacity < 1 {
		errs = append(errs, fmt.Errorf("service.mailbox_capacity must be at least 1"))
	}
	errs = append(errs,
		checkDuration("service.mailbox_timeout", c.Service.MailboxTimeout),
		checkDuration("service.heartbeat", c.Service.Heartbeat),
		checkDuration("ipc.write_timeout", c.IPC.WriteTimeout),
		checkDuration("backend.delay", c.Backend.Delay),
	)
	if heartbeat, err := time.ParseDuration(c.Service.Heartbeat); err == nil && heartbeat > 0 &&
		(heartbeat < eventloop.MinPeriod || heartbeat > eventloop.MaxPeriod) {
		errs = append(errs, fmt.Errorf("service.heartbeat must be 0 or in [%v, %v], got %v",
			eventloop.MinPeriod, eventloop.MaxPeriod, heartbeat))
	}

	if c.IPC.MaxFrameSize < 64 || c.IPC.MaxFrameSize > 64<<20 {
		errs = append(errs, fmt.Errorf("ipc.max_frame_size must be in [64, %d]", 64<<20))
	}
	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.IPC.Compression) {
		errs = append(errs, fmt.Errorf("ipc.compression must be one of: %v", compressions))
	}
	if c.IPC.CompressThreshold < 0 || c.IPC.OutboundCapacity < 0 {
		errs = append(errs, fmt.Errorf("ipc.compress_threshold and ipc.outbound_capacity must not be negative"))
	}

	if c.Backend.Kind != "simulated" {
		errs = append(errs, fmt.Errorf("backend.kind must be simulated, got %q", c.Backend.Kind))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"json", "text"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	return errors.Join(errs...)
}

func checkDuration(field, value string) error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if duration < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

// MailboxTimeout returns service.mailbox_timeout. Call after Validate.
func (c *Config) MailboxTimeout() time.Duration { return mustDuration(c.Service.MailboxTimeout) }

// Heartbeat returns service.heartbeat. Call after Validate.
func (c *Config) Heartbeat() time.Duration { return mustDuration(c.Service.Heartbeat) }

// WriteTimeout returns ipc.write_timeout. Call after Validate.
func (c *Config) WriteTimeout() time.Duration { return mustDuration(c.IPC.WriteTimeout) }

// BackendDelay returns backend.delay. Call after Validate.
func (c *Config) BackendDelay() time.Duration { return mustDuration(c.Backend.Delay) }

func mustDuration(value string) time.Duration {
	duration, _ := time.ParseDuration(value)
	return duration
}

// EnsurePaths creates the socket directory, readable only by its owner,
// if it does not exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.SocketDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.SocketDir, err)
	}
	return nil
}
