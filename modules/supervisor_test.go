package modules

import (
	"context"
	"testing"
	"time"

	"emperror.dev/errors"

	"github.com/priyxstudio/curator/config"
)

// fakeModule is a controllable module implementation for supervisor tests.
type fakeModule struct {
	name    string
	runErr  error
	started chan struct{}
	// ignoreCancel simulates a misbehaving module that never observes its
	// context, used to exercise the shutdown grace period.
	ignoreCancel bool
	release      chan struct{}
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{
		name:    name,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *fakeModule) Name() string        { return f.name }
func (f *fakeModule) Description() string { return "fake module for testing" }

func (f *fakeModule) Run(ctx context.Context, deps Deps) error {
	close(f.started)
	if f.runErr != nil {
		return f.runErr
	}
	if f.ignoreCancel {
		<-f.release
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func registerFake(t *testing.T, r *Registry, mod *fakeModule) {
	t.Helper()
	if err := r.Register(mod.name, func() Module { return mod }); err != nil {
		t.Fatalf("unexpected error registering %s: %s", mod.name, err)
	}
}

func waitForState(t *testing.T, s *Supervisor, name string, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h, exists := s.Handle(name)
		if exists && h.Status().State == want {
			return h.Status()
		}
		time.Sleep(10 * time.Millisecond)
	}
	h, _ := s.Handle(name)
	t.Fatalf("module %s never reached state %s, last status %+v", name, want, h.Status())
	return Status{}
}

func TestRunStartsValidAndSkipsInvalid(t *testing.T) {
	registry := NewRegistry()
	registerFake(t, registry, newFakeModule("mal"))
	registerFake(t, registry, newFakeModule("local"))

	s := NewSupervisor(registry, SupervisorOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := s.Run(ctx, []config.ModuleConfig{
		{Name: "mal", Enabled: true, RateLimit: 2, RateInterval: "1s", RequiredFields: []string{"api_key"}},
		{Name: "local", Enabled: true, RateLimit: 2, RateInterval: "1s"},
		{Name: "disabled", Enabled: false, RateLimit: 2, RateInterval: "1s"},
		{Name: "unknown", Enabled: true, RateLimit: 2, RateInterval: "1s"},
	})

	if got := result["mal"]; got.State != StateSkipped || got.Reason != "missing required API key for module: mal" {
		t.Errorf("expected mal to be skipped for its api key, got %+v", got)
	}
	if got := result["local"]; got.State != StateRunning {
		t.Errorf("expected local to be running, got %+v", got)
	}
	if got := result["disabled"]; got.State != StateSkipped || got.Reason != "module disabled" {
		t.Errorf("expected disabled module to be skipped, got %+v", got)
	}
	if got := result["unknown"]; got.State != StateSkipped {
		t.Errorf("expected unregistered module to be skipped, got %+v", got)
	}

	if running := s.Running(); len(running) != 1 || running[0].Name() != "local" {
		t.Errorf("expected exactly the local module to be running, got %d handles", len(running))
	}
}

func TestModuleFailureIsIsolated(t *testing.T) {
	broken := newFakeModule("broken")
	broken.runErr = errors.New("upstream exploded")
	healthy := newFakeModule("healthy")

	registry := NewRegistry()
	registerFake(t, registry, broken)
	registerFake(t, registry, healthy)

	s := NewSupervisor(registry, SupervisorOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, []config.ModuleConfig{
		{Name: "broken", Enabled: true, RateLimit: 1, RateInterval: "1s"},
		{Name: "healthy", Enabled: true, RateLimit: 1, RateInterval: "1s"},
	})

	status := waitForState(t, s, "broken", StateFailed)
	if status.Reason != "upstream exploded" {
		t.Errorf("expected failure reason to carry the error, got %q", status.Reason)
	}

	if h, _ := s.Handle("healthy"); h.Status().State != StateRunning {
		t.Errorf("expected healthy module to keep running, got %+v", h.Status())
	}
}

func TestRunIsRepeatable(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("steady", func() Module { return newFakeModule("steady") }); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(registry, SupervisorOptions{ShutdownGrace: time.Second})
	configs := []config.ModuleConfig{
		{Name: "steady", Enabled: true, RateLimit: 1, RateInterval: "1s"},
		{Name: "off", Enabled: false, RateLimit: 1, RateInterval: "1s"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := s.Run(ctx, configs)
	cancel()
	waitForState(t, s, "steady", StateStopped)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second := s.Run(ctx2, configs)

	for name, status := range first {
		if second[name].State != status.State {
			t.Errorf("expected %s to reach %s on the second run, got %s", name, status.State, second[name].State)
		}
	}
}

func TestRunCancelsPreviousGeneration(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("steady", func() Module { return newFakeModule("steady") }); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(registry, SupervisorOptions{})
	configs := []config.ModuleConfig{
		{Name: "steady", Enabled: true, RateLimit: 1, RateInterval: "1s"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, configs)
	first, _ := s.Handle("steady")

	// Re-running without an intervening Stop must deliver cancellation to the
	// superseded module rather than orphaning its goroutine.
	s.Run(ctx, configs)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous generation was never canceled by the re-run")
	}
	if got := first.Status(); got.State != StateStopped {
		t.Errorf("expected the superseded module to stop cleanly, got %+v", got)
	}

	second, _ := s.Handle("steady")
	if second == first {
		t.Fatal("expected the re-run to create a fresh handle")
	}
	if got := second.Status(); got.State != StateRunning {
		t.Errorf("expected the new generation to be running, got %+v", got)
	}
}

func TestStopDeliversCancellation(t *testing.T) {
	registry := NewRegistry()
	registerFake(t, registry, newFakeModule("steady"))

	s := NewSupervisor(registry, SupervisorOptions{ShutdownGrace: 2 * time.Second})
	s.Run(context.Background(), []config.ModuleConfig{
		{Name: "steady", Enabled: true, RateLimit: 1, RateInterval: "1s"},
	})

	final := s.Stop(context.Background())
	if got := final["steady"]; got.State != StateStopped {
		t.Errorf("expected steady to stop cleanly, got %+v", got)
	}
}

func TestStopForceFailsStuckModule(t *testing.T) {
	stuck := newFakeModule("stuck")
	stuck.ignoreCancel = true
	polite := newFakeModule("polite")

	registry := NewRegistry()
	registerFake(t, registry, stuck)
	registerFake(t, registry, polite)

	s := NewSupervisor(registry, SupervisorOptions{ShutdownGrace: 100 * time.Millisecond})
	s.Run(context.Background(), []config.ModuleConfig{
		{Name: "stuck", Enabled: true, RateLimit: 1, RateInterval: "1s"},
		{Name: "polite", Enabled: true, RateLimit: 1, RateInterval: "1s"},
	})
	<-stuck.started
	<-polite.started

	final := s.Stop(context.Background())
	defer close(stuck.release)

	if got := final["stuck"]; got.State != StateFailed || got.Reason != "module did not stop within the shutdown grace period" {
		t.Errorf("expected stuck module to be force-failed, got %+v", got)
	}
	if got := final["polite"]; got.State != StateStopped {
		t.Errorf("expected polite module to stop cleanly, got %+v", got)
	}
}

func TestDedicatedLimiterPerModule(t *testing.T) {
	registry := NewRegistry()
	registerFake(t, registry, newFakeModule("a"))
	registerFake(t, registry, newFakeModule("b"))

	s := NewSupervisor(registry, SupervisorOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, []config.ModuleConfig{
		{Name: "a", Enabled: true, RateLimit: 1, RateInterval: "1s"},
		{Name: "b", Enabled: true, RateLimit: 5, RateInterval: "1s"},
	})

	ha, _ := s.Handle("a")
	hb, _ := s.Handle("b")
	if ha.Limiter() == nil || hb.Limiter() == nil {
		t.Fatal("expected both modules to carry a limiter")
	}
	if ha.Limiter() == hb.Limiter() {
		t.Error("expected each module to get its own limiter instance")
	}
	if ha.Limiter().Capacity() != 1 || hb.Limiter().Capacity() != 5 {
		t.Errorf("expected limiter capacities 1 and 5, got %d and %d", ha.Limiter().Capacity(), hb.Limiter().Capacity())
	}
}
