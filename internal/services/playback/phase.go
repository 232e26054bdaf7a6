// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package playback

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIllegalPhaseTransition is returned for transitions outside the table.
var ErrIllegalPhaseTransition = errors.New("illegal loading phase transition")

// LoadingPhase is a user-visible stage of starting playback.
type LoadingPhase string

const (
	PhaseConnecting      LoadingPhase = "connecting"
	PhaseBuffering       LoadingPhase = "buffering"
	PhasePreparingVideo  LoadingPhase = "preparingVideo"
	PhaseSwitchingEngine LoadingPhase = "switchingEngine"
	PhaseRetryingStream  LoadingPhase = "retryingStream"
	PhaseReady           LoadingPhase = "ready"
	PhaseFailed          LoadingPhase = "failed"
)

var phaseTransitions = map[LoadingPhase][]LoadingPhase{
	PhaseConnecting:      {PhaseBuffering, PhasePreparingVideo, PhaseSwitchingEngine, PhaseRetryingStream, PhaseFailed},
	PhaseBuffering:       {PhasePreparingVideo, PhaseSwitchingEngine, PhaseRetryingStream, PhaseReady, PhaseFailed},
	PhasePreparingVideo:  {PhaseReady, PhaseSwitchingEngine, PhaseFailed},
	PhaseSwitchingEngine: {PhaseConnecting, PhaseBuffering, PhasePreparingVideo, PhaseRetryingStream, PhaseReady, PhaseFailed},
	PhaseRetryingStream:  {PhaseConnecting, PhaseBuffering, PhasePreparingVideo, PhaseSwitchingEngine, PhaseReady, PhaseFailed},
	PhaseReady:           {},
	PhaseFailed:          {PhaseConnecting},
}

func (p LoadingPhase) IsTerminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

func (p LoadingPhase) Valid() bool {
	_, ok := phaseTransitions[p]
	return ok
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to LoadingPhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PhaseState is a snapshot of the machine. Message is only set when failed.
type PhaseState struct {
	Phase   LoadingPhase `json:"phase"`
	Message string       `json:"message,omitempty"`
}

// PhaseMachine tracks the loading phase of one playback attempt. A new
// attempt gets a new machine.
type PhaseMachine struct {
	mu       sync.Mutex
	state    PhaseState
	onChange func(from, to PhaseState)
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{state: PhaseState{Phase: PhaseConnecting}}
}

// OnChange registers fn to run after each accepted transition. fn runs with
// the machine unlocked.
func (m *PhaseMachine) OnChange(fn func(from, to PhaseState)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *PhaseMachine) State() PhaseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *PhaseMachine) Phase() LoadingPhase {
	return m.State().Phase
}

// Transition moves to a non-failed phase. Use Fail to enter failed.
func (m *PhaseMachine) Transition(to LoadingPhase) error {
	if to == PhaseFailed {
		return m.Fail("")
	}
	return m.transition(PhaseState{Phase: to})
}

// Fail moves to failed carrying message.
func (m *PhaseMachine) Fail(message string) error {
	return m.transition(PhaseState{Phase: PhaseFailed, Message: message})
}

// Retry is the manual restart from failed back to connecting.
func (m *PhaseMachine) Retry() error {
	return m.transition(PhaseState{Phase: PhaseConnecting})
}

func (m *PhaseMachine) transition(to PhaseState) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from.Phase, to.Phase) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPhaseTransition, from.Phase, to.Phase)
	}
	m.state = to
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}
