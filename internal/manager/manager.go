// ABOUTME: High-level conversation session API over the store.Repository.
// ABOUTME: Absorbs persistence failures so agent message loops never crash.

// Package manager exposes conversation lifecycle operations to agents
// and the orchestrator. Mutating operations return booleans rather than
// errors: a logging or persistence hiccup degrades the conversation
// record but must never abort the caller's message flow. Session
// creation is the exception, since a caller cannot proceed without a
// session ID.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-hq/switchboard/internal/state"
	"github.com/switchboard-hq/switchboard/internal/store"
)

// ErrInvalidChannelConfig is returned by StartSession when the channel
// is unknown or its required identifier is missing.
var ErrInvalidChannelConfig = errors.New("invalid channel configuration")

// StartSessionParams collects everything needed to open a session.
// EmailID is required for email sessions, CallID for phone sessions.
type StartSessionParams struct {
	Channel           state.Channel
	ContactIdentifier string
	ContactName       string
	Classification    state.Classification

	EmailID  string
	ThreadID string

	CallID        string
	PhoneNumber   string
	CallDirection state.CallDirection

	// Data is attached to the initial email_received/call_received event.
	Data map[string]any
}

// ConversationStateManager wraps a Repository with lifecycle semantics.
type ConversationStateManager struct {
	repo   store.Repository
	logger *slog.Logger
}

// New creates a manager over the given repository.
func New(repo store.Repository) *ConversationStateManager {
	return &ConversationStateManager{
		repo:   repo,
		logger: slog.Default().With("component", "manager"),
	}
}

// StartSession creates a new conversation session and logs its initial
// received event. Returns the session ID.
func (m *ConversationStateManager) StartSession(ctx context.Context, p StartSessionParams) (string, error) {
	switch p.Channel {
	case state.ChannelEmail:
		if p.EmailID == "" {
			return "", fmt.Errorf("%w: email_id required for email conversations", ErrInvalidChannelConfig)
		}
	case state.ChannelPhone:
		if p.CallID == "" {
			return "", fmt.Errorf("%w: call_id required for phone conversations", ErrInvalidChannelConfig)
		}
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidChannelConfig, p.Channel)
	}

	cs := state.New(p.Channel, p.ContactIdentifier)
	cs.ContactName = p.ContactName
	cs.Classification = p.Classification
	cs.EmailID = p.EmailID
	cs.ThreadID = p.ThreadID
	cs.CallID = p.CallID
	cs.PhoneNumber = p.PhoneNumber
	cs.CallDirection = p.CallDirection

	initialType := state.EventEmailReceived
	if p.Channel == state.ChannelPhone {
		initialType = state.EventCallReceived
	}
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	cs.AddEvent(initialType, "", data, nil)

	if _, err := m.repo.Create(ctx, cs); err != nil {
		m.logger.Error("failed to start session",
			"channel", p.Channel,
			"contact", p.ContactIdentifier,
			"error", err,
		)
		return "", fmt.Errorf("starting session: %w", err)
	}

	m.logger.Info("started conversation session",
		"session_id", cs.SessionID,
		"channel", p.Channel,
		"contact", p.ContactIdentifier,
	)
	return cs.SessionID, nil
}

// LogEvent appends an event to a session. Returns false on any failure.
func (m *ConversationStateManager) LogEvent(ctx context.Context, sessionID string, eventType state.EventType, agentName string, data, checkpoint map[string]any) bool {
	if data == nil {
		data = map[string]any{}
	}
	ev := state.Event{
		EventID:    uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		AgentName:  agentName,
		Data:       data,
		Checkpoint: checkpoint,
	}

	if err := m.repo.AppendEvent(ctx, sessionID, ev); err != nil {
		m.logger.Warn("failed to log event",
			"session_id", sessionID,
			"event_type", eventType,
			"error", err,
		)
		return false
	}

	m.logger.Debug("logged event", "session_id", sessionID, "event_type", eventType)
	return true
}

// CreateCheckpoint overwrites the session's resume checkpoint. An empty
// status defaults to in_progress. Returns false on any failure.
func (m *ConversationStateManager) CreateCheckpoint(ctx context.Context, sessionID, currentAgent string, status state.SessionStatus, nextAction string, checkpointCtx map[string]any, pendingActions []string) bool {
	if status == "" {
		status = state.StatusInProgress
	}
	if checkpointCtx == nil {
		checkpointCtx = map[string]any{}
	}

	cp := state.Checkpoint{
		Timestamp:      time.Now().UTC(),
		CurrentAgent:   currentAgent,
		State:          status,
		NextAction:     nextAction,
		Context:        checkpointCtx,
		PendingActions: pendingActions,
	}

	if err := m.repo.UpdateCheckpoint(ctx, sessionID, cp); err != nil {
		m.logger.Warn("failed to create checkpoint",
			"session_id", sessionID,
			"current_agent", currentAgent,
			"error", err,
		)
		return false
	}

	m.logger.Debug("created checkpoint", "session_id", sessionID, "current_agent", currentAgent)
	return true
}

// CompleteSession marks a session completed. Returns false on failure.
func (m *ConversationStateManager) CompleteSession(ctx context.Context, sessionID string) bool {
	if err := m.repo.MarkCompleted(ctx, sessionID); err != nil {
		m.logger.Warn("failed to complete session", "session_id", sessionID, "error", err)
		return false
	}
	m.logger.Info("completed conversation session", "session_id", sessionID)
	return true
}

// MarkTimeout marks a session timed out. A zero timeoutAt means now.
// Returns false on failure.
func (m *ConversationStateManager) MarkTimeout(ctx context.Context, sessionID string, timeoutAt time.Time) bool {
	if err := m.repo.MarkTimeout(ctx, sessionID, timeoutAt); err != nil {
		m.logger.Warn("failed to mark timeout", "session_id", sessionID, "error", err)
		return false
	}
	m.logger.Info("marked session timeout", "session_id", sessionID)
	return true
}

// MarkError transitions a session to error status with a diagnostic
// error event. Returns false on failure.
func (m *ConversationStateManager) MarkError(ctx context.Context, sessionID string, errorData map[string]any) bool {
	cs, err := m.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		m.logger.Warn("failed to load session for error marking", "session_id", sessionID, "error", err)
		return false
	}

	cs.MarkError(errorData)
	if err := m.repo.Update(ctx, cs); err != nil {
		m.logger.Warn("failed to mark session error", "session_id", sessionID, "error", err)
		return false
	}

	m.logger.Info("marked session error", "session_id", sessionID)
	return true
}

// GetSession returns a session by ID, or nil when absent or on failure.
func (m *ConversationStateManager) GetSession(ctx context.Context, sessionID string) *state.ConversationState {
	cs, err := m.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		m.logLookupMiss("session_id", sessionID, err)
		return nil
	}
	return cs
}

// GetSessionByEmail returns the session for an email message ID, or nil.
func (m *ConversationStateManager) GetSessionByEmail(ctx context.Context, emailID string) *state.ConversationState {
	cs, err := m.repo.FindByEmailID(ctx, emailID)
	if err != nil {
		m.logLookupMiss("email_id", emailID, err)
		return nil
	}
	return cs
}

// GetSessionByCall returns the session for a call ID, or nil.
func (m *ConversationStateManager) GetSessionByCall(ctx context.Context, callID string) *state.ConversationState {
	cs, err := m.repo.FindByCallID(ctx, callID)
	if err != nil {
		m.logLookupMiss("call_id", callID, err)
		return nil
	}
	return cs
}

// GetSessionByThread returns the most recent session in an email
// thread, or nil.
func (m *ConversationStateManager) GetSessionByThread(ctx context.Context, threadID string) *state.ConversationState {
	cs, err := m.repo.FindByThreadID(ctx, threadID)
	if err != nil {
		m.logLookupMiss("thread_id", threadID, err)
		return nil
	}
	return cs
}

func (m *ConversationStateManager) logLookupMiss(key, value string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("session not found", key, value)
		return
	}
	m.logger.Warn("session lookup failed", key, value, "error", err)
}

// ContactHistory returns a contact's sessions, newest first. Returns an
// empty slice on failure.
func (m *ConversationStateManager) ContactHistory(ctx context.Context, contactIdentifier string, limit int, channel state.Channel) []*state.ConversationState {
	sessions, err := m.repo.FindByContact(ctx, contactIdentifier, limit, channel)
	if err != nil {
		m.logger.Warn("failed to load contact history", "contact", contactIdentifier, "error", err)
		return nil
	}
	return sessions
}

// FindIncompleteSessions returns sessions still in progress or timed
// out that have not been touched within maxAge. Returns an empty slice
// on failure.
func (m *ConversationStateManager) FindIncompleteSessions(ctx context.Context, maxAge time.Duration) []*state.ConversationState {
	sessions, err := m.repo.FindIncomplete(ctx, maxAge)
	if err != nil {
		m.logger.Warn("failed to find incomplete sessions", "error", err)
		return nil
	}
	return sessions
}

// Statistics aggregates session counters for a time range, or nil on
// failure.
func (m *ConversationStateManager) Statistics(ctx context.Context, start, end time.Time, channel state.Channel) *store.Statistics {
	stats, err := m.repo.Statistics(ctx, start, end, channel)
	if err != nil {
		m.logger.Warn("failed to compute statistics", "error", err)
		return nil
	}
	return stats
}

// CleanupOldSessions deletes terminal sessions older than age and
// returns how many were removed. Returns 0 on failure.
func (m *ConversationStateManager) CleanupOldSessions(ctx context.Context, age time.Duration) int {
	n, err := m.repo.DeleteOlderThan(ctx, age)
	if err != nil {
		m.logger.Warn("failed to clean up old sessions", "error", err)
		return 0
	}
	if n > 0 {
		m.logger.Info("cleaned up old sessions", "count", n)
	}
	return n
}
