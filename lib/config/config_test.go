// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "cloudconnect.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Paths.SocketDir != "/run/user/1000/cloudconnect" {
		t.Errorf("expected expanded socket_dir, got %s", cfg.Paths.SocketDir)
	}
	if cfg.Service.Name != "com.bureau.CloudConnect" {
		t.Errorf("expected service name com.bureau.CloudConnect, got %s", cfg.Service.Name)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
	if cfg.MailboxTimeout() != 50*time.Millisecond {
		t.Errorf("mailbox timeout = %v", cfg.MailboxTimeout())
	}
}

func TestLoad_RequiresConfigVariable(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CLOUDCONNECT_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "CLOUDCONNECT_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithConfigVariable(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
paths:
  socket_dir: /test/sockets
ipc:
  compression: zstd
  write_timeout: 2s
backend:
  delay: 250ms
  registration_failure: RegistrationFailed
`)
	t.Setenv(EnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Paths.SocketDir != "/test/sockets" {
		t.Errorf("expected socket_dir=/test/sockets, got %s", cfg.Paths.SocketDir)
	}
	if cfg.IPC.Compression != "zstd" || cfg.WriteTimeout() != 2*time.Second {
		t.Errorf("ipc = %+v", cfg.IPC)
	}
	if cfg.BackendDelay() != 250*time.Millisecond || cfg.Backend.RegistrationFailure != "RegistrationFailed" {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	// Unset fields keep their defaults.
	if cfg.Service.MailboxCapacity != 16 || cfg.IPC.MaxFrameSize != 1<<20 {
		t.Errorf("defaults lost: service=%+v ipc=%+v", cfg.Service, cfg.IPC)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "service: [not, a, map")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
service:
  heartbeat: 10s
log:
  level: info
staging:
  service:
    heartbeat: 1m
  log:
    level: debug
production:
  log:
    level: error
`)
	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Heartbeat() != time.Minute {
		t.Errorf("heartbeat = %v, want staging override 1m", cfg.Heartbeat())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s, want staging override debug", cfg.Log.Level)
	}
	if cfg.Service.MailboxTimeout != "50ms" {
		t.Errorf("empty override replaced mailbox_timeout: %s", cfg.Service.MailboxTimeout)
	}
}

func TestProductionDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Heartbeat() != 5*time.Minute {
		t.Errorf("production defaults not applied: log=%+v heartbeat=%v", cfg.Log, cfg.Heartbeat())
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("CLOUDCONNECT_SERVICE_NAME", "com.example.FromEnv")
	cfg, err := LoadFile(writeConfig(t, "service:\n  name: com.example.FromFile\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Service.Name != "com.example.FromFile" {
		t.Errorf("service name = %s, env vars should not override", cfg.Service.Name)
	}
}

func TestSocketDirExpansion(t *testing.T) {
	t.Setenv("CLOUDCONNECT_TEST_RUNTIME", "/run/test")
	cfg, err := LoadFile(writeConfig(t, "paths:\n  socket_dir: ${CLOUDCONNECT_TEST_RUNTIME}/cc\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.SocketDir != "/run/test/cc" {
		t.Errorf("socket_dir = %s", cfg.Paths.SocketDir)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/cloudconnect",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/cloudconnect",
		},
		{
			input:    "${CLOUDCONNECT_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.Environment = "invalid" },
			wantErr: "invalid environment",
		},
		{
			name:    "empty socket dir",
			modify:  func(c *Config) { c.Paths.SocketDir = "" },
			wantErr: "paths.socket_dir",
		},
		{
			name:    "zero mailbox capacity",
			modify:  func(c *Config) { c.Service.MailboxCapacity = 0 },
			wantErr: "service.mailbox_capacity",
		},
		{
			name:    "bad duration",
			modify:  func(c *Config) { c.Service.MailboxTimeout = "soon" },
			wantErr: "service.mailbox_timeout",
		},
		{
			name:    "negative duration",
			modify:  func(c *Config) { c.Backend.Delay = "-1s" },
			wantErr: "backend.delay",
		},
		{
			name:   "heartbeat disabled",
			modify: func(c *Config) { c.Service.Heartbeat = "0s" },
		},
		{
			name:    "heartbeat below timer minimum",
			modify:  func(c *Config) { c.Service.Heartbeat = "50ms" },
			wantErr: "service.heartbeat must be 0 or in",
		},
		{
			name:    "heartbeat above timer maximum",
			modify:  func(c *Config) { c.Service.Heartbeat = "240h1m" },
			wantErr: "service.heartbeat must be 0 or in",
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.IPC.Compression = "gzip" },
			wantErr: "ipc.compression",
		},
		{
			name:    "tiny frames",
			modify:  func(c *Config) { c.IPC.MaxFrameSize = 16 },
			wantErr: "ipc.max_frame_size",
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Backend.Kind = "cloud" },
			wantErr: "backend.kind",
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Paths.SocketDir = filepath.Join(t.TempDir(), "run", "cloudconnect")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}
	info, err := os.Stat(cfg.Paths.SocketDir)
	if err != nil {
		t.Fatalf("socket dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Errorf("socket dir mode = %v", info.Mode())
	}
}
