// ABOUTME: Resume service: finds interrupted sessions and restarts them from checkpoint.
// ABOUTME: Per-session failures go into the result, never abort a batch sweep.

// Package resume restores interrupted conversations. Sessions left
// in_progress or timeout past an age threshold are candidates; each
// carries a checkpoint naming the agent and next action to restart
// from. Resume attempts are themselves recorded as agent_routed events,
// which is how the retry limit is counted.
package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/state"
	"github.com/switchboard-hq/switchboard/internal/store"
)

// AgentName is the agent_name stamped on resume events. Attempt
// counting matches on it, so it never changes between releases.
const AgentName = "resume_service"

// Result reports one resume attempt.
type Result struct {
	Success    bool                `json:"success"`
	SessionID  string              `json:"session_id"`
	Status     state.SessionStatus `json:"status,omitempty"`
	Checkpoint *state.Checkpoint   `json:"checkpoint,omitempty"`
	NextAction string              `json:"next_action,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// SessionOutcome is one row of an auto-resume summary.
type SessionOutcome struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	NextAction string `json:"next_action,omitempty"`
}

// Summary aggregates one auto-resume sweep.
type Summary struct {
	TotalFound int              `json:"total_found"`
	Resumed    int              `json:"resumed"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Results    []SessionOutcome `json:"results"`
}

// CheckpointSnapshot is the denormalized view handed to an operator or
// a downstream agent restarting work by hand.
type CheckpointSnapshot struct {
	SessionID         string               `json:"session_id"`
	Channel           state.Channel        `json:"channel"`
	ContactIdentifier string               `json:"contact_identifier"`
	ContactName       string               `json:"contact_name,omitempty"`
	Classification    state.Classification `json:"classification,omitempty"`
	CurrentAgent      string               `json:"current_agent"`
	NextAction        string               `json:"next_action,omitempty"`
	Context           map[string]any       `json:"context,omitempty"`
	PendingActions    []string             `json:"pending_actions,omitempty"`
	EventsCount       int                  `json:"events_count"`
	LastEvent         state.EventType      `json:"last_event,omitempty"`
}

// Service finds and resumes interrupted sessions.
type Service struct {
	repo   store.Repository
	states *manager.ConversationStateManager
	logger *slog.Logger
}

// New creates a resume service.
func New(repo store.Repository, states *manager.ConversationStateManager) *Service {
	return &Service{
		repo:   repo,
		states: states,
		logger: slog.Default().With("component", "resume"),
	}
}

// FindResumableSessions returns incomplete sessions older than maxAge,
// optionally filtered by status and channel. Returns an empty slice on
// repository failure.
func (s *Service) FindResumableSessions(ctx context.Context, status state.SessionStatus, maxAge time.Duration, channel state.Channel) []*state.ConversationState {
	sessions, err := s.repo.FindIncomplete(ctx, maxAge)
	if err != nil {
		s.logger.Error("failed to find resumable sessions", "error", err)
		return nil
	}

	var out []*state.ConversationState
	for _, cs := range sessions {
		if status != "" && cs.Status != status {
			continue
		}
		if channel != "" && cs.Channel != channel {
			continue
		}
		out = append(out, cs)
	}

	s.logger.Info("found resumable sessions",
		"count", len(out),
		"status", orAny(string(status)),
		"channel", orAny(string(channel)),
	)
	return out
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

// ResumeSession restarts a session from its last checkpoint. Sessions
// in timeout or in_progress are resumable; force additionally permits
// error sessions. Completed sessions are never resumed, force or not.
func (s *Service) ResumeSession(ctx context.Context, sessionID string, force bool) *Result {
	session := s.states.GetSession(ctx, sessionID)
	if session == nil {
		s.logger.Error("session not found", "session_id", sessionID)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Message:   "Session not found",
		}
	}

	if session.Status == state.StatusCompleted {
		s.logger.Warn("refusing to resume completed session", "session_id", sessionID)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Status:    session.Status,
			Message:   "Session is completed, cannot resume",
		}
	}
	if !force && session.Status != state.StatusTimeout && session.Status != state.StatusInProgress {
		s.logger.Warn("session not resumable",
			"session_id", sessionID,
			"status", session.Status,
		)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Status:    session.Status,
			Message:   fmt.Sprintf("Session is %s, cannot resume", session.Status),
		}
	}

	if session.LastCheckpoint == nil {
		s.logger.Warn("session has no checkpoint", "session_id", sessionID)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Status:    session.Status,
			Message:   "No checkpoint available for resume",
		}
	}

	cp := session.LastCheckpoint
	previousStatus := session.Status

	// Status flip goes first: Update writes the whole row, so the resume
	// event is appended only after the row is settled.
	session.Status = state.StatusInProgress
	session.TimeoutAt = nil
	session.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, session); err != nil {
		s.logger.Error("failed to update resumed session", "session_id", sessionID, "error", err)
		return &Result{
			Success:   false,
			SessionID: sessionID,
			Message:   fmt.Sprintf("Resume failed: %v", err),
		}
	}

	s.states.LogEvent(ctx, sessionID, state.EventAgentRouted, AgentName, map[string]any{
		"action":               "resume",
		"previous_status":      string(previousStatus),
		"checkpoint_timestamp": cp.Timestamp.UTC().Format(time.RFC3339),
		"current_agent":        cp.CurrentAgent,
		"next_action":          cp.NextAction,
	}, nil)

	s.logger.Info("resumed session from checkpoint",
		"session_id", sessionID,
		"current_agent", cp.CurrentAgent,
		"next_action", cp.NextAction,
	)

	return &Result{
		Success:    true,
		SessionID:  sessionID,
		Status:     state.StatusInProgress,
		Checkpoint: cp,
		NextAction: cp.NextAction,
		Message:    fmt.Sprintf("Session resumed from %s", cp.CurrentAgent),
	}
}

// RestoreCheckpoint returns the checkpoint data for a session, or nil
// when the session or its checkpoint is absent.
func (s *Service) RestoreCheckpoint(ctx context.Context, sessionID string) *CheckpointSnapshot {
	session := s.states.GetSession(ctx, sessionID)
	if session == nil || session.LastCheckpoint == nil {
		return nil
	}

	cp := session.LastCheckpoint
	snap := &CheckpointSnapshot{
		SessionID:         sessionID,
		Channel:           session.Channel,
		ContactIdentifier: session.ContactIdentifier,
		ContactName:       session.ContactName,
		Classification:    session.Classification,
		CurrentAgent:      cp.CurrentAgent,
		NextAction:        cp.NextAction,
		Context:           cp.Context,
		PendingActions:    cp.PendingActions,
		EventsCount:       len(session.Events),
	}
	if n := len(session.Events); n > 0 {
		snap.LastEvent = session.Events[n-1].Type
	}
	return snap
}

// resumeAttempts counts prior resume routings recorded on a session.
func resumeAttempts(cs *state.ConversationState) int {
	count := 0
	for _, ev := range cs.Events {
		if ev.Type == state.EventAgentRouted && ev.AgentName == AgentName {
			if action, ok := ev.Data["action"].(string); ok && action == "resume" {
				count++
			}
		}
	}
	return count
}

// AutoResumeTimeouts resumes every timed-out session older than maxAge.
// Sessions that already burned maxRetries attempts are skipped. One
// failing session never aborts the sweep.
func (s *Service) AutoResumeTimeouts(ctx context.Context, maxAge time.Duration, maxRetries int) *Summary {
	sessions := s.FindResumableSessions(ctx, state.StatusTimeout, maxAge, "")

	summary := &Summary{TotalFound: len(sessions)}
	s.logger.Info("starting auto-resume", "sessions", summary.TotalFound)

	for _, session := range sessions {
		attempts := resumeAttempts(session)
		if attempts >= maxRetries {
			s.logger.Warn("session exceeded max retries",
				"session_id", session.SessionID,
				"attempts", attempts,
				"max_retries", maxRetries,
			)
			summary.Skipped++
			summary.Results = append(summary.Results, SessionOutcome{
				SessionID: session.SessionID,
				Status:    "skipped",
				Reason:    fmt.Sprintf("Exceeded max retries (%d/%d)", attempts, maxRetries),
			})
			continue
		}

		result := s.ResumeSession(ctx, session.SessionID, false)
		if result.Success {
			summary.Resumed++
			summary.Results = append(summary.Results, SessionOutcome{
				SessionID:  session.SessionID,
				Status:     "resumed",
				NextAction: result.NextAction,
			})
		} else {
			summary.Failed++
			summary.Results = append(summary.Results, SessionOutcome{
				SessionID: session.SessionID,
				Status:    "failed",
				Reason:    result.Message,
			})
		}
	}

	s.logger.Info("auto-resume completed",
		"resumed", summary.Resumed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary
}

// MarkAbandoned stops resume attempts for a session by transitioning it
// to error status with an abandonment event. Returns false on failure.
func (s *Service) MarkAbandoned(ctx context.Context, sessionID, reason string) bool {
	if reason == "" {
		reason = "Session marked as abandoned after multiple resume attempts"
	}

	logged := s.states.LogEvent(ctx, sessionID, state.EventError, AgentName, map[string]any{
		"action": "mark_abandoned",
		"reason": reason,
	}, nil)
	if !logged {
		return false
	}

	if !s.states.MarkError(ctx, sessionID, map[string]any{
		"abandoned": true,
		"reason":    reason,
	}) {
		return false
	}

	s.logger.Info("marked session abandoned", "session_id", sessionID)
	return true
}
