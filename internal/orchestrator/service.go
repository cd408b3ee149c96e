// Package orchestrator assembles the task inactivity engine. It manages:
//
//   - The polling scheduler that ticks the task pipelines
//   - The internal SMS pipeline and the provider-side flex pipeline
//   - The per-task deadline schedulers behind the ping and close messages
//
// The service decides nothing about individual conversations itself; the
// pipelines do. It wires them together and reports their combined status.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/config"
	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/events/bus"
	"github.com/flexops/flexops/internal/orchestrator/flex"
	"github.com/flexops/flexops/internal/orchestrator/inactivity"
	"github.com/flexops/flexops/internal/orchestrator/scheduler"
	"github.com/flexops/flexops/internal/orchestrator/sms"
	"github.com/flexops/flexops/internal/task/repository"
	"github.com/flexops/flexops/internal/twilio"
	v1 "github.com/flexops/flexops/pkg/api/v1"
)

// Common errors
var (
	ErrServiceAlreadyRunning = errors.New("service is already running")
	ErrServiceNotRunning     = errors.New("service is not running")
)

// Service owns the polling scheduler and both task pipelines. Each pipeline
// gets its own deadline scheduler; internal task ids and provider task sids
// never share a keyspace.
type Service struct {
	scheduler     *scheduler.Scheduler
	internal      *sms.Processor
	flexPipeline  *flex.Processor
	smsDeadlines  *inactivity.Scheduler
	flexDeadlines *inactivity.Scheduler
	logger        *logger.Logger
	enabled       bool

	mu      sync.Mutex
	running bool
}

// NewService builds the inactivity engine from configuration. The event bus
// may be nil when no event transport is wired.
func NewService(
	cfg *config.Config,
	repo repository.Repository,
	provider *twilio.Client,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	smsDeadlines := inactivity.NewScheduler(inactivity.DefaultConfig(), log)
	flexDeadlines := inactivity.NewScheduler(inactivity.DefaultConfig(), log)

	internal := sms.NewProcessor(repo, provider, smsDeadlines, eventBus, cfg.Auto.BatchSize, log)
	flexPipeline := flex.NewProcessor(repo, provider, flexDeadlines, eventBus, flex.Config{
		WorkspaceSid:      cfg.Twilio.WorkspaceSid,
		PollLimit:         cfg.Flex.PollLimit,
		CloseConversation: cfg.Flex.ShouldCloseConversation(),
		CompleteTask:      cfg.Flex.ShouldCompleteTask(),
	}, log)

	dispatch := scheduler.NewScheduler(internal, flexPipeline, log, scheduler.Config{
		PollInterval: cfg.Auto.PollInterval(),
		Source:       cfg.Auto.Source,
	})

	return &Service{
		scheduler:     dispatch,
		internal:      internal,
		flexPipeline:  flexPipeline,
		smsDeadlines:  smsDeadlines,
		flexDeadlines: flexDeadlines,
		logger:        log.WithFields(zap.String("component", "orchestrator")),
		enabled:       cfg.Auto.IsEnabled(),
	}
}

// ArmDeadlines schedules the ping and close deadlines for a greeted internal
// task. Handoff commands call this so a fresh greeting starts its windows
// immediately instead of on the next poll.
func (s *Service) ArmDeadlines(taskID string, greetingSentAt time.Time) {
	s.internal.Arm(taskID, greetingSentAt)
}

// CancelDeadlines drops the armed deadlines of an internal task.
func (s *Service) CancelDeadlines(taskID string) {
	s.internal.Drop(taskID)
}

// CancelProviderDeadlines drops the armed deadlines of a provider task.
func (s *Service) CancelProviderDeadlines(taskSid string) {
	s.flexPipeline.Drop(taskSid)
}

// Start begins polling. A disabled engine starts successfully but never
// ticks; handoff commands and webhook sinks work without it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServiceAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	if !s.enabled {
		s.logger.Info("automatic polling disabled, inactivity engine idle")
		return nil
	}

	if err := s.scheduler.Start(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("orchestrator service started")
	return nil
}

// Stop halts polling and drops every armed deadline. Marks already persisted
// stay put; a later start re-arms from them.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServiceNotRunning
	}
	s.running = false
	s.mu.Unlock()

	if s.enabled {
		if err := s.scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			s.logger.Error("failed to stop scheduler", zap.Error(err))
			return err
		}
	}
	s.smsDeadlines.CancelAll()
	s.flexDeadlines.CancelAll()

	s.logger.Info("orchestrator service stopped")
	return nil
}

// GetStatus reports the live state of the engine.
func (s *Service) GetStatus() *v1.OrchestratorStatus {
	stats := s.scheduler.GetStats()
	return &v1.OrchestratorStatus{
		Running:        s.scheduler.IsRunning(),
		Source:         s.scheduler.Source(),
		PollIntervalMs: int(s.scheduler.PollInterval() / time.Millisecond),
		ScheduledTasks: s.smsDeadlines.Count() + s.flexDeadlines.Count(),
		TicksCompleted: stats.TicksCompleted,
		TicksSkipped:   stats.TicksSkipped,
		LastTickAt:     stats.LastTickAt,
	}
}
