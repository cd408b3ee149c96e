package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flexops/flexops/internal/common/logger"
)

// fakePipeline counts passes and returns a configured candidate count. When
// block is set, Process waits until the channel closes.
type fakePipeline struct {
	mu         sync.Mutex
	calls      int
	candidates int
	err        error
	block      chan struct{}
}

func (f *fakePipeline) Process(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	candidates := f.candidates
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return candidates, err
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func createTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error", // Suppress logs during tests
		Format: "console",
	})
	return log
}

func newTestScheduler(cfg Config) (*Scheduler, *fakePipeline, *fakePipeline) {
	internal := &fakePipeline{}
	flex := &fakePipeline{}
	return NewScheduler(internal, flex, createTestLogger(), cfg), internal, flex
}

func TestNewSchedulerNormalizesConfig(t *testing.T) {
	s, _, _ := newTestScheduler(Config{PollInterval: 0, Source: "bogus"})

	if s.PollInterval() != time.Second {
		t.Errorf("expected default poll interval, got %v", s.PollInterval())
	}
	if s.Source() != SourceAuto {
		t.Errorf("expected source auto, got %q", s.Source())
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running initially")
	}
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	_ = s.Start(context.Background())
	defer func() {
		_ = s.Stop()
	}()

	if err := s.Start(context.Background()); err != ErrSchedulerAlreadyRunning {
		t.Errorf("expected ErrSchedulerAlreadyRunning, got %v", err)
	}
}

func TestStopNotRunning(t *testing.T) {
	s, _, _ := newTestScheduler(DefaultConfig())

	if err := s.Stop(); err != ErrSchedulerNotRunning {
		t.Errorf("expected ErrSchedulerNotRunning, got %v", err)
	}
}

func TestAutoModeStopsAtProviderWork(t *testing.T) {
	s, internal, flex := newTestScheduler(DefaultConfig())
	flex.candidates = 2

	s.tick(context.Background())

	if flex.callCount() != 1 {
		t.Errorf("expected one provider pass, got %d", flex.callCount())
	}
	if internal.callCount() != 0 {
		t.Errorf("internal pipeline should not run when the provider saw work, got %d passes", internal.callCount())
	}
}

func TestAutoModeFallsThroughWhenProviderIdle(t *testing.T) {
	s, internal, flex := newTestScheduler(DefaultConfig())

	s.tick(context.Background())

	if flex.callCount() != 1 {
		t.Errorf("expected one provider pass, got %d", flex.callCount())
	}
	if internal.callCount() != 1 {
		t.Errorf("expected one internal pass, got %d", internal.callCount())
	}
}

func TestInternalModeSkipsProvider(t *testing.T) {
	s, internal, flex := newTestScheduler(Config{PollInterval: time.Second, Source: SourceInternal})

	s.tick(context.Background())

	if flex.callCount() != 0 {
		t.Errorf("provider pipeline should not run in internal mode, got %d passes", flex.callCount())
	}
	if internal.callCount() != 1 {
		t.Errorf("expected one internal pass, got %d", internal.callCount())
	}
}

func TestFlexModeNeverFallsThrough(t *testing.T) {
	s, internal, flex := newTestScheduler(Config{PollInterval: time.Second, Source: SourceFlex})

	// Provider sees nothing; flex mode still must not touch internal tasks.
	s.tick(context.Background())

	if flex.callCount() != 1 {
		t.Errorf("expected one provider pass, got %d", flex.callCount())
	}
	if internal.callCount() != 0 {
		t.Errorf("internal pipeline must not run in flex mode, got %d passes", internal.callCount())
	}
}

func TestPipelineErrorsDoNotStopDispatch(t *testing.T) {
	s, internal, flex := newTestScheduler(DefaultConfig())
	flex.err = errors.New("provider repo down")
	internal.err = errors.New("internal repo down")

	s.tick(context.Background())
	s.tick(context.Background())

	if flex.callCount() != 2 || internal.callCount() != 2 {
		t.Errorf("expected both pipelines attempted each tick, got flex=%d internal=%d",
			flex.callCount(), internal.callCount())
	}
	stats := s.GetStats()
	if stats.TicksCompleted != 2 {
		t.Errorf("expected 2 completed ticks, got %d", stats.TicksCompleted)
	}
}

func TestOverlappingTicksAreDropped(t *testing.T) {
	s, internal, flex := newTestScheduler(DefaultConfig())
	release := make(chan struct{})
	flex.block = release

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(context.Background())
	}()

	// Wait until the first tick is inside the provider pass, then pile on.
	deadline := time.Now().Add(2 * time.Second)
	for flex.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.tick(context.Background())
	s.tick(context.Background())

	close(release)
	wg.Wait()

	stats := s.GetStats()
	if stats.TicksCompleted != 1 {
		t.Errorf("expected 1 completed tick, got %d", stats.TicksCompleted)
	}
	if stats.TicksSkipped != 2 {
		t.Errorf("expected 2 dropped ticks, got %d", stats.TicksSkipped)
	}
	if flex.callCount() != 1 {
		t.Errorf("expected a single provider pass, got %d", flex.callCount())
	}
	if internal.callCount() != 1 {
		t.Errorf("expected a single internal pass, got %d", internal.callCount())
	}
}

func TestPollLoopTicksAndRecordsStats(t *testing.T) {
	s, internal, _ := newTestScheduler(Config{PollInterval: 10 * time.Millisecond, Source: SourceAuto})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for internal.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if internal.callCount() < 3 {
		t.Fatalf("expected at least 3 passes, got %d", internal.callCount())
	}
	stats := s.GetStats()
	if stats.TicksCompleted < 3 {
		t.Errorf("expected at least 3 completed ticks, got %d", stats.TicksCompleted)
	}
	if stats.LastTickAt == nil {
		t.Error("expected LastTickAt to be recorded")
	}
}

func TestSchedulerWithContextCancellation(t *testing.T) {
	s, internal, _ := newTestScheduler(Config{PollInterval: 10 * time.Millisecond, Source: SourceInternal})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for internal.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Cancel context
	cancel()
	time.Sleep(30 * time.Millisecond)
	before := internal.callCount()
	time.Sleep(50 * time.Millisecond)
	if after := internal.callCount(); after != before {
		t.Errorf("loop kept ticking after cancellation: %d -> %d", before, after)
	}

	// The loop has exited; Stop only cleans up the running flag
	_ = s.Stop()
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	s, _, flex := newTestScheduler(Config{PollInterval: 10 * time.Millisecond, Source: SourceAuto})
	release := make(chan struct{})
	flex.block = release

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for flex.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
}
