// Package timeout implements the Adaptive Timeout controller (spec.md §4.6,
// component C8): a process-wide feedback loop, scoped to the Responses
// upstream pool only, that grows the per-request streaming-body deadline
// after a timeout and shrinks it back after sustained success.
package timeout

import (
	"sync"
	"time"

	"github.com/thushan/llmrelay/internal/core/domain"
)

// Adaptive guards one domain.AdaptiveTimeoutState with its own mutex, as
// spec.md §4.6 requires ("counter updates are not performance-critical").
type Adaptive struct {
	mu    sync.Mutex
	state domain.AdaptiveTimeoutState

	BaseSeconds      int
	IncrementSeconds int
	SuccessesToReset int
}

// New builds an Adaptive controller from the configured knobs.
func New(baseSeconds, incrementSeconds, successesToReset int) *Adaptive {
	return &Adaptive{
		BaseSeconds:      baseSeconds,
		IncrementSeconds: incrementSeconds,
		SuccessesToReset: successesToReset,
	}
}

// Deadline returns the current effective streaming-body deadline:
// base + extra_seconds (spec.md §4.6).
func (a *Adaptive) Deadline() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.BaseSeconds+a.state.ExtraSeconds) * time.Second
}

// RecordTimeout grows extra_seconds by IncrementSeconds and resets the
// consecutive-success counter to zero.
func (a *Adaptive) RecordTimeout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ExtraSeconds += a.IncrementSeconds
	a.state.ConsecutiveSuccesses = 0
}

// RecordSuccess increments the consecutive-success counter when the
// deadline is currently inflated, resetting to (0, 0) once the streak
// reaches SuccessesToReset.
func (a *Adaptive) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.ExtraSeconds == 0 {
		return
	}
	a.state.ConsecutiveSuccesses++
	if a.state.ConsecutiveSuccesses >= a.SuccessesToReset {
		a.state.ExtraSeconds = 0
		a.state.ConsecutiveSuccesses = 0
	}
}

// Snapshot returns a copy of the current state, for status reporting.
func (a *Adaptive) Snapshot() domain.AdaptiveTimeoutState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
