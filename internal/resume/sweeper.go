// ABOUTME: Scheduled sweeps: timeout stale sessions, auto-resume, retention cleanup.
// ABOUTME: Runs on cron schedules so the daemon self-heals without operator action.

package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/state"
)

// SweeperConfig sets the schedules and thresholds for the background
// sweeps. Zero-valued schedules disable the corresponding sweep.
type SweeperConfig struct {
	// ResumeSchedule triggers the timeout-then-resume sweep.
	ResumeSchedule string
	// CleanupSchedule triggers retention cleanup.
	CleanupSchedule string

	// StaleAfter is how long an in_progress session may go untouched
	// before it is marked timeout.
	StaleAfter time.Duration
	// MaxAge bounds how old a timed-out session may be and still be
	// auto-resumed.
	MaxAge time.Duration
	// MaxRetries caps resume attempts per session.
	MaxRetries int
	// RetainFor is how long terminal sessions are kept.
	RetainFor time.Duration
}

// Sweeper schedules the resume service's periodic work.
type Sweeper struct {
	cfg    SweeperConfig
	svc    *Service
	states *manager.ConversationStateManager
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper creates a sweeper; Start begins scheduling.
func NewSweeper(cfg SweeperConfig, svc *Service, states *manager.ConversationStateManager) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		svc:    svc,
		states: states,
		cron:   cron.New(),
		logger: slog.Default().With("component", "sweeper"),
	}
}

// Start registers the configured schedules and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cfg.ResumeSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.ResumeSchedule, func() { s.RunResumeSweep(ctx) }); err != nil {
			return fmt.Errorf("scheduling resume sweep: %w", err)
		}
	}
	if s.cfg.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.RunCleanup(ctx) }); err != nil {
			return fmt.Errorf("scheduling cleanup sweep: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("sweeper started",
		"resume_schedule", s.cfg.ResumeSchedule,
		"cleanup_schedule", s.cfg.CleanupSchedule,
	)
	return nil
}

// Stop halts scheduling and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("sweeper stopped")
}

// RunResumeSweep marks stale in_progress sessions as timed out, then
// auto-resumes everything eligible. Also callable outside the schedule.
func (s *Sweeper) RunResumeSweep(ctx context.Context) *Summary {
	if s.cfg.StaleAfter > 0 {
		stale := s.svc.FindResumableSessions(ctx, state.StatusInProgress, s.cfg.StaleAfter, "")
		for _, cs := range stale {
			if s.states.MarkTimeout(ctx, cs.SessionID, time.Time{}) {
				s.logger.Info("marked stale session timeout",
					"session_id", cs.SessionID,
					"updated_at", cs.UpdatedAt,
				)
			}
		}
	}

	return s.svc.AutoResumeTimeouts(ctx, s.cfg.MaxAge, s.cfg.MaxRetries)
}

// RunCleanup deletes terminal sessions past the retention window.
func (s *Sweeper) RunCleanup(ctx context.Context) int {
	if s.cfg.RetainFor <= 0 {
		return 0
	}
	return s.states.CleanupOldSessions(ctx, s.cfg.RetainFor)
}
