// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"sync"
	"time"
)

// escalationPeriods defines backoff durations for repeated rate limit failures.
// Escalates with consecutive failures and resets on success.
var escalationPeriods = []time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

type indexerRateState struct {
	cooldownUntil   time.Time
	escalationLevel int
}

// RateLimiter tracks per-indexer cooldowns after rate-limit responses. It
// never blocks; the service asks it which indexers to skip.
type RateLimiter struct {
	mu     sync.Mutex
	states map[string]*indexerRateState
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		states: make(map[string]*indexerRateState),
		now:    time.Now,
	}
}

// RecordFailure increments the escalation level and sets a cooldown of at
// least retryAfter. It returns the cooldown applied.
func (r *RateLimiter) RecordFailure(indexer string, retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.getStateLocked(indexer)
	if state.escalationLevel < len(escalationPeriods)-1 {
		state.escalationLevel++
	}

	cooldown := max(escalationPeriods[state.escalationLevel], retryAfter)
	if cooldown > 0 {
		until := r.now().Add(cooldown)
		if until.After(state.cooldownUntil) {
			state.cooldownUntil = until
		}
	}
	return cooldown
}

// RecordSuccess resets the escalation level and clears any cooldown.
func (r *RateLimiter) RecordSuccess(indexer string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.getStateLocked(indexer)
	state.escalationLevel = 0
	state.cooldownUntil = time.Time{}
}

func (r *RateLimiter) IsInCooldown(indexer string) (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[indexer]
	if !ok || !state.cooldownUntil.After(r.now()) {
		return false, time.Time{}
	}
	return true, state.cooldownUntil
}

// Cooldowns returns the indexers currently in cooldown and when they resume.
func (r *RateLimiter) Cooldowns() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make(map[string]time.Time)
	for name, state := range r.states {
		if state.cooldownUntil.After(now) {
			out[name] = state.cooldownUntil
		}
	}
	return out
}

func (r *RateLimiter) getStateLocked(indexer string) *indexerRateState {
	state, ok := r.states[indexer]
	if !ok {
		state = &indexerRateState{}
		r.states[indexer] = state
	}
	return state
}
