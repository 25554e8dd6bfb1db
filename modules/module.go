package modules

import (
	"context"
	"sort"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"gorm.io/gorm"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/internal/ratelimit"
)

// Deps carries everything a running module is handed by the supervisor. The
// limiter is dedicated to the module and must gate every outbound provider
// call; the database and queue are shared, concurrency-safe collaborators.
type Deps struct {
	Config  config.ModuleConfig
	Limiter *ratelimit.Limiter
	DB      *gorm.DB
	Queue   *queue.Queue
}

// Module represents a provider module that can be started by the supervisor.
type Module interface {
	// Name returns the unique identifier for this module. It must match the
	// name used in the configuration file.
	Name() string

	// Description returns a human-readable description of what this module does.
	Description() string

	// Run executes the module until ctx is canceled. Implementations must
	// observe cancellation and return promptly; a non-nil return that is not
	// the context's error marks the module as failed.
	Run(ctx context.Context, deps Deps) error
}

// Fetcher is implemented by modules that can fetch a single catalog entry by
// the provider's own identifier.
type Fetcher interface {
	FetchByID(ctx context.Context, id uint) error
}

// Searcher is implemented by modules that can search the provider's catalog.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) error
}

// Refresher is implemented by modules that can re-fetch their own stale
// records, driven by the cron scheduler.
type Refresher interface {
	RefreshStale(ctx context.Context) error
}

// Factory constructs a fresh module instance. The supervisor invokes the
// factory once per Run so repeated runs never share state.
type Factory func() Module

// Registry maps configured module names to their implementations. Modules are
// selected by configuration, never by runtime reflection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registers a module factory under the given name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Errorf("modules: %s is already registered", name)
	}

	r.factories[name] = factory
	log.WithField("module", name).Debug("module registered")
	return nil
}

// Get retrieves a module factory by name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, exists := r.factories[name]
	return factory, exists
}

// Names returns the sorted names of all registered modules.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
