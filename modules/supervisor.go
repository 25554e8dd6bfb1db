package modules

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/models"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/internal/ratelimit"
)

// DefaultShutdownGrace is how long Stop waits for a running module to observe
// cancellation before it is force-failed.
const DefaultShutdownGrace = 10 * time.Second

// SupervisorOptions carries the optional collaborators handed to every
// started module and the shutdown policy.
type SupervisorOptions struct {
	DB            *gorm.DB
	Queue         *queue.Queue
	ShutdownGrace time.Duration
}

// Supervisor orchestrates the configured set of modules: it validates each
// configuration, starts the modules that are enabled and valid with a
// dedicated rate limiter each, and records every start, skip, stop and
// failure. One module's failure never affects its siblings or the process.
type Supervisor struct {
	registry *Registry
	opts     SupervisorOptions

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewSupervisor creates a supervisor drawing module implementations from the
// given registry.
func NewSupervisor(registry *Registry, opts SupervisorOptions) *Supervisor {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Supervisor{
		registry: registry,
		opts:     opts,
		handles:  make(map[string]*Handle),
	}
}

// Run validates every declared module in order and starts the ones that are
// enabled and valid. It returns once every start-or-skip decision has been
// made; started modules keep running on their own goroutines until ctx is
// canceled. The returned map holds each module's status at the moment of the
// decision. Re-running with identical configs reproduces the same decisions,
// with fresh rate limiter state; any module still executing from a previous
// run is canceled before it is superseded so no generation is ever orphaned.
func (s *Supervisor) Run(ctx context.Context, configs []config.ModuleConfig) map[string]Status {
	s.mu.Lock()
	prev := s.handles
	s.handles = make(map[string]*Handle, len(configs))
	s.mu.Unlock()

	for _, h := range prev {
		h.mu.RLock()
		cancel := h.cancel
		h.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
	}

	result := make(map[string]Status, len(configs))
	for _, cfg := range configs {
		h := s.launch(ctx, cfg)

		s.mu.Lock()
		s.handles[cfg.Name] = h
		s.mu.Unlock()

		result[cfg.Name] = h.Status()
	}
	return result
}

// launch decides the start-or-skip outcome for a single module. Validation is
// synchronous and fast; the module's own work never blocks the decision for
// any other module.
func (s *Supervisor) launch(ctx context.Context, cfg config.ModuleConfig) *Handle {
	h := newHandle(cfg.Name)
	h.setStatus(Status{State: StateValidating})

	if outcome := Validate(cfg); !outcome.Valid {
		h.setStatus(Status{State: StateSkipped, Reason: outcome.Reason})
		log.WithFields(log.Fields{
			"module": cfg.Name,
			"reason": outcome.Reason,
		}).Warn("module skipped")
		s.saveState(cfg, h.Status())
		return h
	}

	factory, exists := s.registry.Get(cfg.Name)
	if !exists {
		reason := "no module implementation registered with name: " + cfg.Name
		h.setStatus(Status{State: StateSkipped, Reason: reason})
		log.WithFields(log.Fields{
			"module": cfg.Name,
			"reason": reason,
		}).Warn("module skipped")
		s.saveState(cfg, h.Status())
		return h
	}

	h.setStatus(Status{State: StateStarting})

	mod := factory()
	limiter := ratelimit.New(cfg.Name, cfg.RateLimit, cfg.RateWindow())
	mctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.module = mod
	h.limiter = limiter
	h.cancel = cancel
	h.mu.Unlock()

	deps := Deps{
		Config:  cfg,
		Limiter: limiter,
		DB:      s.opts.DB,
		Queue:   s.opts.Queue,
	}

	h.setStatus(Status{State: StateRunning})
	log.WithField("module", cfg.Name).Info("module started")
	s.saveState(cfg, h.Status())

	go func() {
		defer close(h.done)
		defer cancel()

		err := mod.Run(mctx, deps)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			h.setStatus(Status{State: StateStopped})
			log.WithField("module", cfg.Name).Info("module stopped")
		default:
			h.setStatus(Status{State: StateFailed, Reason: err.Error()})
			log.WithFields(log.Fields{
				"module": cfg.Name,
				"reason": err.Error(),
			}).Warn("module failed")
		}
		s.saveState(cfg, h.Status())
	}()

	return h
}

// Stop delivers the shutdown signal to every running module and waits up to
// the configured grace period for each to exit. A module that does not stop
// in time is force-failed rather than allowed to block shutdown. The final
// status of every module is returned.
func (s *Supervisor) Stop(ctx context.Context) map[string]Status {
	handles := s.snapshot()

	for _, h := range handles {
		h.mu.RLock()
		cancel := h.cancel
		h.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
	}

	deadline := time.NewTimer(s.opts.ShutdownGrace)
	defer deadline.Stop()

	for _, h := range handles {
		if h.Status().Terminal() {
			continue
		}
		select {
		case <-h.Done():
		case <-deadline.C:
			s.forceFail(handles)
			return s.Statuses()
		case <-ctx.Done():
			s.forceFail(handles)
			return s.Statuses()
		}
	}
	return s.Statuses()
}

func (s *Supervisor) forceFail(handles []*Handle) {
	for _, h := range handles {
		if h.Status().Terminal() {
			continue
		}
		h.setStatus(Status{State: StateFailed, Reason: "module did not stop within the shutdown grace period"})
		log.WithFields(log.Fields{
			"module": h.Name(),
			"reason": "shutdown grace period exceeded",
		}).Warn("module failed")
	}
}

// Handle returns the handle for the named module from the most recent Run.
func (s *Supervisor) Handle(name string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, exists := s.handles[name]
	return h, exists
}

// Statuses returns a consistent snapshot of every module's current status.
func (s *Supervisor) Statuses() map[string]Status {
	out := make(map[string]Status)
	for _, h := range s.snapshot() {
		out[h.Name()] = h.Status()
	}
	return out
}

// Running returns the modules currently in the Running state.
func (s *Supervisor) Running() []*Handle {
	var out []*Handle
	for _, h := range s.snapshot() {
		if h.Status().State == StateRunning {
			out = append(out, h)
		}
	}
	return out
}

func (s *Supervisor) snapshot() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// saveState persists the module's latest outcome so it can be inspected
// across restarts. Persistence failures are logged, never fatal.
func (s *Supervisor) saveState(cfg config.ModuleConfig, status Status) {
	if s.opts.DB == nil {
		return
	}

	var record models.Module
	result := s.opts.DB.Where("name = ?", cfg.Name).First(&record)

	record.Name = cfg.Name
	record.Enabled = cfg.Enabled
	record.Status = string(status.State)
	record.Reason = status.Reason

	var err error
	if result.Error == gorm.ErrRecordNotFound {
		err = s.opts.DB.Create(&record).Error
	} else if result.Error != nil {
		err = result.Error
	} else {
		err = s.opts.DB.Save(&record).Error
	}
	if err != nil {
		log.WithError(err).WithField("module", cfg.Name).Warn("failed to save module state")
	}
}
