// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// RatePolicy bounds how often one user may trigger a stage invocation.
type RatePolicy struct {
	// Limit is the request quota per window.
	Limit int

	// Window is the fixed window length.
	Window time.Duration
}

// DefaultRatePolicy is applied when no policy is configured for a stage.
func DefaultRatePolicy() RatePolicy {
	return RatePolicy{Limit: 10, Window: 10 * time.Minute}
}

// RateLimiter is a fixed-window counter keyed by (user, stage).
//
// # Description
//
// Each key gets a window that starts on its first request; requests past the
// quota are denied until the window elapses. Denials report remaining quota
// and seconds until reset so callers can schedule retries.
//
// Note: golang.org/x/time/rate is deliberately not used here; the token
// bucket cannot report window reset times, which this API contract requires.
// The provider-side QPS guard in services/reasoning does use it.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow

	// now is injectable for tests.
	now func() time.Time
}

type rateWindow struct {
	start  time.Time
	window time.Duration
	count  int
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow records one invocation attempt for userID on stage under policy.
//
// # Outputs
//
//   - allowed: False when the quota for the current window is exhausted.
//   - remaining: Requests left in the window after this call.
//   - resetSeconds: Seconds until the window resets. Always > 0 on denial.
func (l *RateLimiter) Allow(userID string, stage datatypes.Stage, policy RatePolicy) (allowed bool, remaining int, resetSeconds int) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		policy = DefaultRatePolicy()
	}

	key := fmt.Sprintf("%s|%s", userID, stage)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= policy.Window {
		w = &rateWindow{start: now, window: policy.Window}
		l.windows[key] = w
		l.pruneLocked(now)
	}

	reset := int(policy.Window.Seconds() - now.Sub(w.start).Seconds())
	if reset < 1 {
		reset = 1
	}

	if w.count >= policy.Limit {
		return false, 0, reset
	}

	w.count++
	return true, policy.Limit - w.count, reset
}

// pruneLocked drops windows older than twice their own length. Each key is
// judged by the window it was opened with, so a rollover on a short-window
// stage never evicts another stage's still-active longer window. Called with
// the lock held, on window rollover only, to keep the map bounded.
func (l *RateLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*w.window {
			delete(l.windows, key)
		}
	}
}
