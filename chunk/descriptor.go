// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package chunk provides a plain, concrete cache.ChunkInfo implementation
// for callers that already have chunk metadata in hand (e.g. read from an
// on-disk image manifest) rather than deriving it some other way.
package chunk

import "github.com/changweige/image-service/cache"

// Descriptor is a concrete, in-memory cache.ChunkInfo.
type Descriptor struct {
	Digest            cache.Digest
	CompressedOffset  int64
	CompressedSize    uint32
	DecompressedOffset int64
	DecompressedSize  uint32
	Compressed        bool
	Hole              bool
}

func (d Descriptor) ChunkDigest() cache.Digest    { return d.Digest }
func (d Descriptor) CompressOffset() int64        { return d.CompressedOffset }
func (d Descriptor) CompressSize() uint32         { return d.CompressedSize }
func (d Descriptor) DecompressOffset() int64      { return d.DecompressedOffset }
func (d Descriptor) DecompressSize() uint32       { return d.DecompressedSize }
func (d Descriptor) IsCompressed() bool           { return d.Compressed }
func (d Descriptor) IsHole() bool                 { return d.Hole }

var _ cache.ChunkInfo = Descriptor{}
