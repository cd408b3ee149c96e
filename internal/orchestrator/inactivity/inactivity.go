// Package inactivity arms per-task ping and close deadlines anchored to the
// greeting timestamp.
//
// Timers here are bookkeeping only: every callback re-reads task state and
// re-checks its preconditions before acting, so a stale firing is harmless.
// Cancel prevents future firings; it does not abort a callback that already
// started.
package inactivity

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/logger"
)

// Default deadline offsets, measured from the greeting timestamp.
const (
	DefaultPingOffset     = 5 * time.Second
	DefaultInactiveOffset = 30 * time.Second
)

// Callback runs when a deadline elapses, on its own goroutine.
type Callback func(taskID string)

// Config holds the deadline offsets. Tests use short offsets so suites do
// not wait out the production windows.
type Config struct {
	PingOffset     time.Duration
	InactiveOffset time.Duration
}

// DefaultConfig returns the production offsets.
func DefaultConfig() Config {
	return Config{
		PingOffset:     DefaultPingOffset,
		InactiveOffset: DefaultInactiveOffset,
	}
}

type entry struct {
	pingTimer     *time.Timer
	inactiveTimer *time.Timer
}

func (e *entry) stop() {
	if e.pingTimer != nil {
		e.pingTimer.Stop()
	}
	if e.inactiveTimer != nil {
		e.inactiveTimer.Stop()
	}
}

// Scheduler tracks the armed deadline pair of each watched task, keyed by an
// opaque task id (internal task UUID or provider task sid).
type Scheduler struct {
	cfg    Config
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewScheduler creates a scheduler. Zero or negative offsets in cfg fall
// back to the defaults.
func NewScheduler(cfg Config, log *logger.Logger) *Scheduler {
	if cfg.PingOffset <= 0 {
		cfg.PingOffset = DefaultPingOffset
	}
	if cfg.InactiveOffset <= 0 {
		cfg.InactiveOffset = DefaultInactiveOffset
	}
	return &Scheduler{
		cfg:     cfg,
		logger:  log.WithFields(zap.String("component", "inactivity")),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Schedule arms the ping and inactivity deadlines for taskID, replacing any
// existing pair. Delays anchor to greetingSentAt rather than to the call
// time, so re-arming after a restart fires at the original deadlines; a
// deadline already in the past fires immediately.
func (s *Scheduler) Schedule(taskID string, greetingSentAt time.Time, onPing, onInactive Callback) {
	now := s.now()
	pingDelay := deadlineDelay(greetingSentAt, s.cfg.PingOffset, now)
	inactiveDelay := deadlineDelay(greetingSentAt, s.cfg.InactiveOffset, now)

	s.mu.Lock()
	if existing, ok := s.entries[taskID]; ok {
		existing.stop()
	}
	e := &entry{}
	e.pingTimer = time.AfterFunc(pingDelay, func() {
		s.invoke(taskID, e, "ping", onPing)
	})
	e.inactiveTimer = time.AfterFunc(inactiveDelay, func() {
		s.invoke(taskID, e, "inactive", onInactive)
	})
	s.entries[taskID] = e
	s.mu.Unlock()

	s.logger.Debug("deadlines armed",
		zap.String("task_id", taskID),
		zap.Duration("ping_delay", pingDelay),
		zap.Duration("inactive_delay", inactiveDelay))
}

// Cancel stops both deadlines for taskID. Idempotent; safe to call from
// inside a callback.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	e, ok := s.entries[taskID]
	if ok {
		e.stop()
		delete(s.entries, taskID)
	}
	s.mu.Unlock()
}

// Has reports whether taskID currently has an armed deadline pair.
func (s *Scheduler) Has(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// Count returns the number of tasks with armed deadlines.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CancelAll stops every armed deadline. Used on shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	for id, e := range s.entries {
		e.stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// invoke runs a deadline callback if its entry is still the current one for
// taskID. A timer whose entry was cancelled or replaced no-ops here even
// when Stop lost the race with the firing.
func (s *Scheduler) invoke(taskID string, e *entry, deadline string, cb Callback) {
	s.mu.Lock()
	current, ok := s.entries[taskID]
	s.mu.Unlock()
	if !ok || current != e {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("deadline callback panicked",
				zap.String("task_id", taskID),
				zap.String("deadline", deadline),
				zap.Any("panic", r))
		}
	}()

	if cb != nil {
		cb(taskID)
	}
}

func deadlineDelay(anchor time.Time, offset time.Duration, now time.Time) time.Duration {
	delay := anchor.Add(offset).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
