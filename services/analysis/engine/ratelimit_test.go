// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// testClock is an injectable clock for the limiter.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*RateLimiter, *testClock) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewRateLimiter()
	l.now = clock.now
	return l, clock
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter()
	policy := RatePolicy{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, remaining, reset := l.Allow("user-1", datatypes.StageSynthesis, policy)
		assert.True(t, allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, remaining)
		assert.Greater(t, reset, 0)
	}

	allowed, remaining, reset := l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Greater(t, reset, 0, "denial must report when the window resets")
}

func TestRateLimiter_WindowExpiryRestoresQuota(t *testing.T) {
	l, clock := newTestLimiter()
	policy := RatePolicy{Limit: 1, Window: time.Minute}

	allowed, _, _ := l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.True(t, allowed)
	allowed, _, _ = l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.False(t, allowed)

	clock.advance(time.Minute)

	allowed, remaining, _ := l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.True(t, allowed, "a fresh window should restore the quota")
	assert.Zero(t, remaining)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	policy := RatePolicy{Limit: 1, Window: time.Minute}

	allowed, _, _ := l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.True(t, allowed)
	allowed, _, _ = l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.False(t, allowed)

	// Same user, other stage.
	allowed, _, _ = l.Allow("user-1", datatypes.StageSolutions, policy)
	assert.True(t, allowed)

	// Other user, same stage.
	allowed, _, _ = l.Allow("user-2", datatypes.StageSynthesis, policy)
	assert.True(t, allowed)
}

func TestRateLimiter_MixedWindowsPruneIndependently(t *testing.T) {
	l, clock := newTestLimiter()
	hourly := RatePolicy{Limit: 1, Window: time.Hour}
	perMinute := RatePolicy{Limit: 1, Window: time.Minute}

	// Exhaust the hourly solutions budget.
	allowed, _, _ := l.Allow("user-1", datatypes.StageSolutions, hourly)
	assert.True(t, allowed)
	allowed, _, _ = l.Allow("user-1", datatypes.StageSolutions, hourly)
	assert.False(t, allowed)

	// A short-window stage opening a fresh window must not evict the
	// solutions key, whose own hour-long window is still live.
	clock.advance(2 * time.Minute)
	allowed, _, _ = l.Allow("user-1", datatypes.StageSynthesis, perMinute)
	assert.True(t, allowed)

	allowed, _, reset := l.Allow("user-1", datatypes.StageSolutions, hourly)
	assert.False(t, allowed, "hourly quota must hold for the full hour")
	assert.Greater(t, reset, 3000, "reset must reflect the hourly window")

	// After the hour the quota comes back.
	clock.advance(time.Hour)
	allowed, _, _ = l.Allow("user-1", datatypes.StageSolutions, hourly)
	assert.True(t, allowed)
}

func TestRateLimiter_InvalidPolicyFallsBackToDefault(t *testing.T) {
	l, _ := newTestLimiter()

	allowed, remaining, _ := l.Allow("user-1", datatypes.StageSynthesis, RatePolicy{})
	assert.True(t, allowed)
	assert.Equal(t, DefaultRatePolicy().Limit-1, remaining)
}

func TestRateLimiter_ResetCountsDown(t *testing.T) {
	l, clock := newTestLimiter()
	policy := RatePolicy{Limit: 1, Window: time.Minute}

	_, _, reset := l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.Equal(t, 60, reset)

	clock.advance(45 * time.Second)
	_, _, reset = l.Allow("user-1", datatypes.StageSynthesis, policy)
	assert.Equal(t, 15, reset)
}
