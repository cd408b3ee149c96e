package inactivity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexops/flexops/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func shortConfig() Config {
	return Config{
		PingOffset:     20 * time.Millisecond,
		InactiveOffset: 60 * time.Millisecond,
	}
}

func waitSignal(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return ""
	}
}

func TestDeadlineDelay(t *testing.T) {
	anchor := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		now    time.Time
		want   time.Duration
	}{
		{"fresh greeting keeps full offset", 5 * time.Second, anchor, 5 * time.Second},
		{"elapsed portion is subtracted", 30 * time.Second, anchor.Add(20 * time.Second), 10 * time.Second},
		{"past deadline clamps to zero", 5 * time.Second, anchor.Add(20 * time.Second), 0},
		{"exact boundary fires immediately", 5 * time.Second, anchor.Add(5 * time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deadlineDelay(anchor, tt.offset, tt.now); got != tt.want {
				t.Errorf("deadlineDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleFiresBothDeadlines(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	pingCh := make(chan string, 1)
	inactiveCh := make(chan string, 1)
	s.Schedule("task-1", time.Now(), func(id string) {
		pingCh <- id
	}, func(id string) {
		inactiveCh <- id
	})

	if !s.Has("task-1") {
		t.Error("Expected Has to report the armed task")
	}
	if got := waitSignal(t, pingCh, "ping"); got != "task-1" {
		t.Errorf("Ping callback got id %q", got)
	}
	if got := waitSignal(t, inactiveCh, "inactive"); got != "task-1" {
		t.Errorf("Inactive callback got id %q", got)
	}
}

func TestScheduleAnchoredInPast(t *testing.T) {
	// A greeting 20s old with production offsets: the ping deadline is
	// already past and fires immediately, the close deadline still waits.
	s := NewScheduler(DefaultConfig(), newTestLogger(t))
	defer s.CancelAll()

	pingCh := make(chan string, 1)
	var inactiveFired atomic.Int32
	s.Schedule("task-1", time.Now().Add(-20*time.Second), func(id string) {
		pingCh <- id
	}, func(string) {
		inactiveFired.Add(1)
	})

	waitSignal(t, pingCh, "immediate ping")
	if inactiveFired.Load() != 0 {
		t.Error("Inactive deadline fired 10s early")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	var fired atomic.Int32
	count := func(string) { fired.Add(1) }
	s.Schedule("task-1", time.Now(), count, count)
	s.Cancel("task-1")

	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("Expected no callbacks after Cancel, got %d", got)
	}
	if s.Has("task-1") {
		t.Error("Expected Has to be false after Cancel")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	s.Schedule("task-1", time.Now(), nil, nil)
	s.Cancel("task-1")
	s.Cancel("task-1")
	s.Cancel("never-scheduled")
}

func TestRescheduleReplacesCallbacks(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	var stale atomic.Int32
	staleCb := func(string) { stale.Add(1) }
	s.Schedule("task-1", time.Now(), staleCb, staleCb)

	freshCh := make(chan string, 2)
	fresh := func(id string) { freshCh <- id }
	s.Schedule("task-1", time.Now(), fresh, fresh)

	waitSignal(t, freshCh, "fresh ping")
	waitSignal(t, freshCh, "fresh inactive")
	if got := stale.Load(); got != 0 {
		t.Errorf("Replaced callbacks fired %d times", got)
	}
}

func TestCallbackMayCancelOwnEntry(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	done := make(chan string, 1)
	s.Schedule("task-1", time.Now(), nil, func(id string) {
		s.Cancel(id)
		done <- id
	})

	waitSignal(t, done, "inactive callback with self-cancel")
	if s.Has("task-1") {
		t.Error("Expected entry removed after self-cancel")
	}
}

func TestCallbackPanicDoesNotKillSibling(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	inactiveCh := make(chan string, 1)
	s.Schedule("task-1", time.Now(), func(string) {
		panic("ping callback exploded")
	}, func(id string) {
		inactiveCh <- id
	})

	waitSignal(t, inactiveCh, "inactive after ping panic")
}

func TestCancelAll(t *testing.T) {
	s := NewScheduler(shortConfig(), newTestLogger(t))

	var fired atomic.Int32
	count := func(string) { fired.Add(1) }
	s.Schedule("task-1", time.Now(), count, count)
	s.Schedule("task-2", time.Now(), count, count)
	if s.Count() != 2 {
		t.Fatalf("Expected 2 armed tasks, got %d", s.Count())
	}

	s.CancelAll()
	if s.Count() != 0 {
		t.Errorf("Expected 0 armed tasks after CancelAll, got %d", s.Count())
	}

	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("Expected no callbacks after CancelAll, got %d", got)
	}
}

func TestConfigDefaultsApplied(t *testing.T) {
	s := NewScheduler(Config{}, newTestLogger(t))
	if s.cfg.PingOffset != DefaultPingOffset {
		t.Errorf("PingOffset = %v", s.cfg.PingOffset)
	}
	if s.cfg.InactiveOffset != DefaultInactiveOffset {
		t.Errorf("InactiveOffset = %v", s.cfg.InactiveOffset)
	}
}
