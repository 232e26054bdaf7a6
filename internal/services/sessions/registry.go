// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sessions binds browser sessions to search orchestrators.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/services/search"
)

const DefaultIdleTimeout = 30 * time.Minute

// Factory builds the orchestrator for a new session id.
type Factory func(id string) *search.Orchestrator

type entry struct {
	orchestrator *search.Orchestrator
	lastSeen     time.Time
}

// Registry owns one orchestrator per session and closes sessions that have
// been idle for longer than the idle timeout.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	factory     Factory
	idleTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewRegistry(factory Factory, idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		sessions:    make(map[string]*entry),
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      log.Logger.With().Str("module", "sessions").Logger(),
	}
}

// Get returns the orchestrator for id and marks the session as used.
func (r *Registry) Get(id string) (*search.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.orchestrator, true
}

// Touch marks the session as used. It reports false once the session is gone.
func (r *Registry) Touch(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// GetOrCreate returns the orchestrator for id, creating it on first use.
// It returns nil once the registry is closed.
func (r *Registry) GetOrCreate(id string) *search.Orchestrator {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.orchestrator
	}

	o := r.factory(id)
	r.sessions[id] = &entry{orchestrator: o, lastSeen: r.now()}
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.SetActiveSessions(count)
	r.logger.Debug().Str("session", id).Int("active", count).Msg("Session created")
	return o
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.orchestrator.Close()
	metrics.SetActiveSessions(count)
	r.logger.Debug().Str("session", id).Int("active", count).Msg("Session removed")
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Each calls fn for every live orchestrator. fn runs without the registry lock.
func (r *Registry) Each(fn func(*search.Orchestrator)) {
	r.mu.Lock()
	live := make([]*search.Orchestrator, 0, len(r.sessions))
	for _, e := range r.sessions {
		live = append(live, e.orchestrator)
	}
	r.mu.Unlock()

	for _, o := range live {
		fn(o)
	}
}

// Sweep closes sessions idle for longer than the idle timeout.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*search.Orchestrator
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.orchestrator)
			delete(r.sessions, id)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, o := range expired {
		o.Close()
	}
	if len(expired) > 0 {
		metrics.SetActiveSessions(count)
		r.logger.Debug().Int("expired", len(expired)).Int("active", count).Msg("Closed idle sessions")
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every session. Later GetOrCreate calls return nil.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.orchestrator.Close()
	}
	metrics.SetActiveSessions(0)
}
