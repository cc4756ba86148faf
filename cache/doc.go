// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the local blob chunk cache for a content-addressed,
// chunked image filesystem. It sits between the random-access read path and a
// remote blob backend: it persists fetched chunks to local files, serves later
// reads from disk, deduplicates concurrent fetches of the same chunk, optionally
// validates chunk integrity, and runs a prefetch worker pool that merges read
// hints into batched backend requests.
package cache
