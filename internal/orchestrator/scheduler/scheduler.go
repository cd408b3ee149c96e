// Package scheduler runs the polling loop that feeds the task pipelines.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
)

// Common errors
var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Task sources selectable via configuration.
const (
	SourceAuto     = "auto"
	SourceInternal = "internal"
	SourceFlex     = "flex"
)

// Pipeline is one polling pass over a task source. It reports how many
// candidate tasks the pass saw.
type Pipeline interface {
	Process(ctx context.Context) (int, error)
}

// Config holds dispatcher configuration
type Config struct {
	PollInterval time.Duration // tick period
	Source       string        // auto, internal, or flex
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Source:       SourceAuto,
	}
}

// Scheduler ticks at the poll interval and routes each tick to the task
// pipelines by source mode. In auto mode the provider pipeline runs first
// and the internal one only when the provider saw nothing, so a deployment
// on provider task routing does not also walk the internal table.
type Scheduler struct {
	internal Pipeline
	flex     Pipeline
	logger   *logger.Logger
	config   Config

	// Statistics
	ticksCompleted uint64
	ticksSkipped   uint64

	// inFlight is 1 while a tick is running; overlapping ticks are dropped.
	inFlight int32

	mu         sync.RWMutex
	running    bool
	lastTickAt *time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// Stats is a point-in-time snapshot of the dispatch counters.
type Stats struct {
	TicksCompleted uint64
	TicksSkipped   uint64
	LastTickAt     *time.Time
}

// NewScheduler creates a new scheduler driving the given pipelines.
func NewScheduler(internal, flex Pipeline, log *logger.Logger, config Config) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	switch config.Source {
	case SourceAuto, SourceInternal, SourceFlex:
	default:
		config.Source = SourceAuto
	}
	return &Scheduler{
		internal: internal,
		flex:     flex,
		logger:   log.WithFields(zap.String("component", "scheduler")),
		config:   config,
	}
}

// Start begins the polling loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.String("source", s.config.Source))

	s.wg.Add(1)
	go s.pollLoop(ctx)

	return nil
}

// Stop stops the polling loop and waits for any in-flight tick
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Source returns the configured task source mode.
func (s *Scheduler) Source() string {
	return s.config.Source
}

// PollInterval returns the configured tick period.
func (s *Scheduler) PollInterval() time.Duration {
	return s.config.PollInterval
}

// GetStats returns the current dispatch counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	last := s.lastTickAt
	s.mu.RUnlock()
	return Stats{
		TicksCompleted: atomic.LoadUint64(&s.ticksCompleted),
		TicksSkipped:   atomic.LoadUint64(&s.ticksSkipped),
		LastTickAt:     last,
	}
}

// pollLoop is the main polling loop
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler polling loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopping due to stop signal")
			return
		case <-ticker.C:
			// Each tick runs on its own goroutine so a pass that outlasts
			// the interval is observed and dropped rather than queued.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.tick(ctx)
			}()
		}
	}
}

// tick runs one dispatch pass unless the previous one is still in flight.
func (s *Scheduler) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		atomic.AddUint64(&s.ticksSkipped, 1)
		s.logger.Debug("previous tick still in flight, dropping this one")
		return
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	s.runPipelines(ctx)

	atomic.AddUint64(&s.ticksCompleted, 1)
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastTickAt = &now
	s.mu.Unlock()
}

// runPipelines applies the source mode: flex-capable modes poll the provider
// first, and the internal pipeline runs only when the provider pass saw no
// candidate tasks.
func (s *Scheduler) runPipelines(ctx context.Context) {
	if s.config.Source != SourceInternal {
		candidates, err := s.flex.Process(ctx)
		if err != nil {
			s.logger.Error("provider pipeline pass failed", zap.Error(err))
		}
		if s.config.Source == SourceFlex || candidates > 0 {
			return
		}
	}
	if _, err := s.internal.Process(ctx); err != nil {
		s.logger.Error("internal pipeline pass failed", zap.Error(err))
	}
}
