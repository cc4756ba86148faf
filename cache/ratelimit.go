// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"

	"golang.org/x/time/rate"
)

// defaultBlockSize is the chunk/block size used, in the absence of better
// information, to size the rate limiter's burst. A configured bandwidth_rate
// smaller than one block would otherwise throttle every single merged
// request to zero progress.
const defaultBlockSize = 1 << 20 // 1 MiB

// throttle wraps golang.org/x/time/rate as a bytes/second token bucket. A
// zero rate means throttling is disabled.
type throttle struct {
	limiter *rate.Limiter
	burst   int
}

// newThrottle builds a throttle for ratePerSec bytes/second, or returns nil
// if ratePerSec is 0 (unlimited). The burst is tweaked up to at least
// defaultBlockSize so a small configured rate never self-deadlocks.
func newThrottle(ratePerSec uint32) *throttle {
	if ratePerSec == 0 {
		return nil
	}
	burst := int(ratePerSec)
	if burst < defaultBlockSize {
		burst = defaultBlockSize
	}
	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		burst:   burst,
	}
}

// wait consumes n bytes worth of tokens, blocking until they are available.
// If n exceeds the burst capacity the request can never succeed outright;
// per spec this is logged and throttling is skipped for this request rather
// than blocking forever.
func (t *throttle) wait(ctx context.Context, n int) error {
	if t == nil || n <= 0 {
		return nil
	}
	if n > t.burst {
		return ErrRateLimitOverCapacity
	}
	return t.limiter.WaitN(ctx, n)
}
