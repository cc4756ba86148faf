// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import "errors"

// Error kinds from the cache's error taxonomy. Callers compare against these
// with errors.Is; internal code wraps them with github.com/pkg/errors for
// context without losing the sentinel identity.
var (
	ErrNotFound             = errors.New("blobcache: not found")
	ErrInvalidArgument      = errors.New("blobcache: invalid argument")
	ErrIntegrityViolation   = errors.New("blobcache: integrity violation")
	ErrIoOther              = errors.New("blobcache: io error")
	ErrNotSupported         = errors.New("blobcache: not supported")
	ErrRateLimitOverCapacity = errors.New("blobcache: rate limit request exceeds burst capacity")
	ErrBackendError         = errors.New("blobcache: backend error")
	ErrClosed               = errors.New("blobcache: cache is closed")
)
