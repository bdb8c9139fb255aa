// Package scheduler runs harvesting sessions on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler already running")

// RunFunc executes one session. The context is cancelled when the scheduler stops.
type RunFunc func(ctx context.Context) error

// Status describes the scheduled task
type Status struct {
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	IsProcessing bool       `json:"is_processing"`
	Runs         int        `json:"runs"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Service triggers a RunFunc on a cron schedule. At most one run is in flight; a tick that
// arrives while a run is still going is skipped.
type Service struct {
	cron   *cron.Cron
	run    RunFunc
	logger arbor.ILogger

	mu           sync.Mutex
	schedule     string
	entryID      cron.EntryID
	running      bool
	isProcessing bool
	runs         int
	lastRun      *time.Time
	lastError    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a scheduler for run
func NewService(run RunFunc, logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		run:    run,
		logger: logger,
	}
}

// Start schedules run with a standard 5-field cron expression. With runOnStart the first
// session starts immediately instead of waiting for the first tick.
func (s *Service) Start(cronExpr string, runOnStart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if cronExpr == "" {
		return fmt.Errorf("cron expression is required")
	}

	entryID, err := s.cron.AddFunc(cronExpr, s.runScheduledTask)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.entryID = entryID
	s.schedule = cronExpr
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Bool("run_on_start", runOnStart).
		Msg("Scheduler started")

	if runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runScheduledTask()
		}()
	}
	return nil
}

// Stop halts the schedule, cancels an in-flight run and waits for it to return
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cron.Remove(s.entryID)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerNow runs the task immediately in the background
func (s *Service) TriggerNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	if s.isProcessing {
		return fmt.Errorf("a session is already in progress")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runScheduledTask()
	}()
	return nil
}

// IsRunning reports whether the schedule is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetStatus returns a snapshot of the scheduled task
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Schedule:     s.schedule,
		Running:      s.running,
		IsProcessing: s.isProcessing,
		Runs:         s.runs,
		LastError:    s.lastError,
	}
	if s.lastRun != nil {
		lastRun := *s.lastRun
		status.LastRun = &lastRun
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

func (s *Service) runScheduledTask() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled session")
			s.finishRun(fmt.Errorf("panic: %v", r))
		}
	}()

	s.mu.Lock()
	if s.isProcessing || !s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("Session already in progress, skipping this cycle")
		return
	}
	s.isProcessing = true
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduled session starting")
	err := s.run(ctx)
	s.finishRun(err)

	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled session failed")
		return
	}
	s.logger.Info().Msg("Scheduled session completed")
}

func (s *Service) finishRun(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.lastRun = &now
	s.runs++
	s.isProcessing = false
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}
