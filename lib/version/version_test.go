// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoUsesInjectedValues(t *testing.T) {
	saved := []string{GitCommit, GitDirty, BuildTime, Version}
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime, Version = saved[0], saved[1], saved[2], saved[3]
	})

	GitCommit, GitDirty, BuildTime, Version = "abc1234", "true", "2026-10-19T00:00:00Z", "1.2.3"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-10-19T00:00:00Z)"; got != want {
		t.Fatalf("Info() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(Full(), Info()+"\n  Go: ") {
		t.Fatalf("Full() = %q", Full())
	}
	if Short() != "1.2.3" {
		t.Fatalf("Short() = %q", Short())
	}
}

func TestSelfHash(t *testing.T) {
	hash, binaryPath, err := SelfHash()
	if err != nil {
		t.Fatalf("SelfHash: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(hash))
	}
	if binaryPath == "" {
		t.Fatal("binaryPath is empty")
	}

	again, _, err := SelfHash()
	if err != nil {
		t.Fatalf("SelfHash (second): %v", err)
	}
	if again != hash {
		t.Fatal("SelfHash is not deterministic")
	}
}
