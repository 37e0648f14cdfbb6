// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestSplitSignature(t *testing.T) {
	tests := map[string][]string{
		"":        nil,
		"s":       {"s"},
		"is":      {"i", "s"},
		"sa(sv)":  {"s", "a(sv)"},
		"ia(iv)":  {"i", "a(iv)"},
		"aai":     {"aai"},
		"(s(ib))": {"(s(ib))"},
		"ytdxub":  {"y", "t", "d", "x", "u", "b"},
	}
	for signature, want := range tests {
		got, err := SplitSignature(signature)
		if err != nil {
			t.Errorf("SplitSignature(%q): %v", signature, err)
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("SplitSignature(%q) = %q, want %q", signature, got, want)
		}
	}
}

func TestInvalidSignatures(t *testing.T) {
	for _, signature := range []string{"a", "(", "()", "(s", "s)", "z", "a(sv", strings.Repeat("a", 40) + "s"} {
		if err := ValidateSignature(signature); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("ValidateSignature(%q) = %v, want ErrInvalidSignature", signature, err)
		}
	}
}
