// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

// PrefetchWorkerConfig configures the prefetch coordinator.
type PrefetchWorkerConfig struct {
	// Enable turns the prefetch worker pool on. If false, Prefetch is a no-op.
	Enable bool
	// ThreadsCount is the number of prefetch worker goroutines.
	ThreadsCount uint32
	// MergingSize caps the byte span of one merged backend request.
	MergingSize uint32
	// BandwidthRate is the prefetch rate limit in bytes/second; 0 disables throttling.
	BandwidthRate uint32
}

// Config is the cache's construction-time configuration surface.
type Config struct {
	// WorkDir is the writable directory holding one file per blob-id.
	// Defaults to "." if empty.
	WorkDir string
	// CacheValidate, if true, always recomputes and checks the chunk digest
	// after any read path (cache or backend).
	CacheValidate bool
	// CacheCompressed, if true, stores compressed bytes on disk and
	// decompresses on every read; otherwise chunks are decompressed once and
	// stored decompressed.
	CacheCompressed bool
	// PrefetchWorker configures the prefetch coordinator.
	PrefetchWorker PrefetchWorkerConfig
}

func (cfg Config) workDir() string {
	if cfg.WorkDir == "" {
		return "."
	}
	return cfg.WorkDir
}
