package modules

import (
	"context"
	"sync"

	"github.com/priyxstudio/curator/internal/ratelimit"
)

// State is the supervisor-observed lifecycle state of a module.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateSkipped    State = "skipped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Status is a consistent snapshot of a module's state plus the human-readable
// reason for skip or failure outcomes.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the status will never change again for this run.
func (s Status) Terminal() bool {
	return s.State == StateSkipped || s.State == StateStopped || s.State == StateFailed
}

// Handle is the supervisor-owned record for one module. Status mutations only
// ever happen on the supervisor's side; everything else gets read-only
// snapshots. A module never outlives its handle's transition to Stopped or
// Failed.
type Handle struct {
	name string

	mu     sync.RWMutex
	status Status
	module Module

	limiter *ratelimit.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func newHandle(name string) *Handle {
	return &Handle{
		name:   name,
		status: Status{State: StatePending},
		done:   make(chan struct{}),
	}
}

// Name returns the module name this handle tracks.
func (h *Handle) Name() string {
	return h.name
}

// Status returns a snapshot of the module's current status.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Module returns the module instance owned by this handle, or nil when the
// module was skipped before construction.
func (h *Handle) Module() Module {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.module
}

// Limiter returns the rate limiter bound to this module, or nil when the
// module never started.
func (h *Handle) Limiter() *ratelimit.Limiter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.limiter
}

// Done is closed once the module's goroutine has fully exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Terminal states stick; a late goroutine exit must not overwrite a
	// force-failed shutdown outcome.
	if h.status.Terminal() {
		return
	}
	h.status = s
}
