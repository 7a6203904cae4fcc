// ABOUTME: Repository interface and query types for conversation-state persistence.
// ABOUTME: Defines lookups by session/email/call/thread/contact and the statistics shape.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/switchboard-hq/switchboard/internal/state"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when creating a session whose session_id
// already exists.
var ErrDuplicateSession = errors.New("session already exists")

// Statistics aggregates conversation counters over a time window.
type Statistics struct {
	TotalConversations int            `json:"total_conversations"`
	ByStatus           map[string]int `json:"by_status"`
	ByChannel          map[string]int `json:"by_channel"`
	TotalLLMCalls      int            `json:"total_llm_calls"`
	TotalTokens        int            `json:"total_tokens"`
	AvgDurationMS      float64        `json:"avg_duration_ms"`
}

// Repository is the persistence boundary for conversation state. Event
// appends and checkpoint writes are individually atomic: a failed write never
// leaves a partially-updated event log.
type Repository interface {
	// Create persists a new conversation state and returns the
	// storage-assigned row ID. Fails with ErrDuplicateSession if the
	// session_id is already present.
	Create(ctx context.Context, cs *state.ConversationState) (int64, error)

	// FindBySessionID returns the session or ErrNotFound.
	FindBySessionID(ctx context.Context, sessionID string) (*state.ConversationState, error)

	// FindByEmailID returns the session created for a given email message ID,
	// or ErrNotFound.
	FindByEmailID(ctx context.Context, emailID string) (*state.ConversationState, error)

	// FindByCallID returns the session created for a given call ID, or
	// ErrNotFound.
	FindByCallID(ctx context.Context, callID string) (*state.ConversationState, error)

	// FindByThreadID returns the most recently created session for an email
	// thread, or ErrNotFound.
	FindByThreadID(ctx context.Context, threadID string) (*state.ConversationState, error)

	// FindByContact returns up to limit sessions for a contact identifier,
	// newest first, optionally filtered by channel (empty = all).
	FindByContact(ctx context.Context, contactIdentifier string, limit int, channel state.Channel) ([]*state.ConversationState, error)

	// FindIncomplete returns sessions in {in_progress, timeout} whose
	// updated_at is older than maxAge, newest first.
	FindIncomplete(ctx context.Context, maxAge time.Duration) ([]*state.ConversationState, error)

	// Update rewrites the full session row identified by session_id.
	Update(ctx context.Context, cs *state.ConversationState) error

	// AppendEvent atomically appends one event to the session's log and
	// refreshes derived metadata and updated_at.
	AppendEvent(ctx context.Context, sessionID string, ev state.Event) error

	// UpdateCheckpoint atomically overwrites the session's last checkpoint.
	UpdateCheckpoint(ctx context.Context, sessionID string, cp state.Checkpoint) error

	// MarkCompleted transitions the session to completed.
	MarkCompleted(ctx context.Context, sessionID string) error

	// MarkTimeout transitions the session to timeout.
	MarkTimeout(ctx context.Context, sessionID string, timeoutAt time.Time) error

	// Statistics aggregates counters for sessions created in [start, end],
	// optionally filtered by channel.
	Statistics(ctx context.Context, start, end time.Time, channel state.Channel) (*Statistics, error)

	// DeleteOlderThan removes terminal sessions (completed/error/timeout)
	// whose updated_at is older than age. Returns the number deleted.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)

	// Close releases underlying resources.
	Close() error
}
