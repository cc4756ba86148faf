// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package sha256digest implements cache.Digester using
// github.com/opencontainers/go-digest's SHA-256 algorithm, decoded into the
// cache's fixed 32-byte Digest representation (a SHA-256 sum is exactly 32
// bytes, so this is a lossless reinterpretation).
package sha256digest

import (
	"encoding/hex"

	digestpkg "github.com/opencontainers/go-digest"

	"github.com/changweige/image-service/cache"
)

// Digester computes chunk digests using SHA-256 via go-digest.
type Digester struct{}

// New returns a cache.Digester backed by SHA-256.
func New() Digester {
	return Digester{}
}

func (Digester) Algorithm() string {
	return digestpkg.SHA256.String()
}

func (Digester) Digest(buf []byte) cache.Digest {
	d := digestpkg.SHA256.FromBytes(buf)
	hexPart := d.Encoded() // 64 hex chars = 32 bytes
	var out cache.Digest
	raw, err := hex.DecodeString(hexPart)
	if err != nil || len(raw) != len(out) {
		// go-digest guarantees a well-formed SHA-256 encoded string; this
		// branch only exists to keep Digest a total function.
		return out
	}
	copy(out[:], raw)
	return out
}
