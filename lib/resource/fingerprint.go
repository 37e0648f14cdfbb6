// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// Fingerprint is a BLAKE3 digest of a tree's shape: paths, declared
// types, operations and observability. Current values are not part of
// it, so a tree keeps its fingerprint across sets.
type Fingerprint [32]byte

// fingerprintKey is the ASCII domain name, zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'c', 'l', 'o', 'u', 'd', 'c', 'o', 'n', 'n',
	'e', 'c', 't', '.', 'd', 'e', 'f', 'i', 'n', 'i', 't', 'i', 'o', 'n', 0, 0,
}

// Fingerprint hashes the tree's shape in path order.
func (t *Tree) Fingerprint() Fingerprint {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic(fmt.Sprintf("blake3.NewKeyed with 32-byte key: %v", err))
	}
	var line []byte
	for _, path := range t.Paths() {
		resource, _ := t.Lookup(path)
		line = line[:0]
		line = append(line, path.String()...)
		line = append(line, ' ')
		line = append(line, resource.Type.String()...)
		line = append(line, ' ')
		line = strconv.AppendUint(line, uint64(resource.Operations), 10)
		line = append(line, ' ')
		line = strconv.AppendBool(line, resource.Observable)
		line = append(line, '\n')
		hasher.Write(line)
	}
	var digest Fingerprint
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex digits, for logs.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:6])
}
