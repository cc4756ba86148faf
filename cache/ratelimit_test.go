// Copyright 2020 Ant Group. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestNewThrottleDisabledAtZero(t *testing.T) {
	if th := newThrottle(0); th != nil {
		t.Fatalf("expected nil throttle for rate 0, got %+v", th)
	}
}

func TestNewThrottleBurstFloorsAtDefaultBlockSize(t *testing.T) {
	th := newThrottle(10) // far below defaultBlockSize
	if th.burst != defaultBlockSize {
		t.Fatalf("got burst %d, want %d", th.burst, defaultBlockSize)
	}
}

func TestThrottleWaitOverCapacityIsRejected(t *testing.T) {
	th := &throttle{limiter: rate.NewLimiter(rate.Limit(1024), 1024), burst: 1024}
	err := th.wait(context.Background(), 2048)
	if err != ErrRateLimitOverCapacity {
		t.Fatalf("got %v, want ErrRateLimitOverCapacity", err)
	}
}

// Scenario 6: a request within burst but exceeding currently available
// tokens blocks until enough tokens have replenished.
func TestThrottleWaitBlocksUntilTokensAvailable(t *testing.T) {
	th := &throttle{limiter: rate.NewLimiter(rate.Limit(1024), 2048), burst: 2048}

	// Drain the initial burst first.
	if err := th.wait(context.Background(), 2048); err != nil {
		t.Fatalf("initial drain: %v", err)
	}

	start := time.Now()
	if err := th.wait(context.Background(), 1024); err != nil {
		t.Fatalf("wait: %v", err)
	}
	elapsed := time.Since(start)
	// At 1024 bytes/sec, waiting for 1024 more tokens should take roughly 1s;
	// allow generous slack for scheduler jitter but require it was not instant.
	if elapsed < 500*time.Millisecond {
		t.Fatalf("expected wait to block for replenishment, elapsed only %v", elapsed)
	}
}
