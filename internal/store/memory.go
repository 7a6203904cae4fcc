// ABOUTME: In-memory Repository implementation for tests and ephemeral runs.
// ABOUTME: Mirrors SQLite behavior including copy-on-read and atomic mutations.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/switchboard-hq/switchboard/internal/state"
)

// MemoryStore implements Repository entirely in memory. Sessions are
// deep-copied on both write and read so callers never share mutable
// state with the store, matching what a database round trip gives them.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*state.ConversationState
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*state.ConversationState),
		nextID:   1,
	}
}

func cloneState(cs *state.ConversationState) *state.ConversationState {
	data, err := json.Marshal(cs)
	if err != nil {
		panic(fmt.Sprintf("cloning conversation state: %v", err))
	}
	var out state.ConversationState
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("cloning conversation state: %v", err))
	}
	return &out
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Create inserts a new conversation state and returns the assigned ID.
func (m *MemoryStore) Create(_ context.Context, cs *state.ConversationState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[cs.SessionID]; exists {
		return 0, ErrDuplicateSession
	}

	cs.ID = m.nextID
	m.nextID++
	m.sessions[cs.SessionID] = cloneState(cs)
	return cs.ID, nil
}

// FindBySessionID returns the session or ErrNotFound.
func (m *MemoryStore) FindBySessionID(_ context.Context, sessionID string) (*state.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneState(cs), nil
}

func (m *MemoryStore) findBy(match func(*state.ConversationState) bool) (*state.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *state.ConversationState
	for _, cs := range m.sessions {
		if !match(cs) {
			continue
		}
		if best == nil || cs.CreatedAt.After(best.CreatedAt) ||
			(cs.CreatedAt.Equal(best.CreatedAt) && cs.ID > best.ID) {
			best = cs
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneState(best), nil
}

// FindByEmailID returns the session for an email message ID or ErrNotFound.
func (m *MemoryStore) FindByEmailID(_ context.Context, emailID string) (*state.ConversationState, error) {
	return m.findBy(func(cs *state.ConversationState) bool {
		return emailID != "" && cs.EmailID == emailID
	})
}

// FindByCallID returns the session for a call ID or ErrNotFound.
func (m *MemoryStore) FindByCallID(_ context.Context, callID string) (*state.ConversationState, error) {
	return m.findBy(func(cs *state.ConversationState) bool {
		return callID != "" && cs.CallID == callID
	})
}

// FindByThreadID returns the most recently created session for a thread,
// or ErrNotFound.
func (m *MemoryStore) FindByThreadID(_ context.Context, threadID string) (*state.ConversationState, error) {
	return m.findBy(func(cs *state.ConversationState) bool {
		return threadID != "" && cs.ThreadID == threadID
	})
}

// FindByContact returns a contact's sessions, newest first.
func (m *MemoryStore) FindByContact(_ context.Context, contactIdentifier string, limit int, channel state.Channel) ([]*state.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*state.ConversationState
	for _, cs := range m.sessions {
		if cs.ContactIdentifier != contactIdentifier {
			continue
		}
		if channel != "" && cs.Channel != channel {
			continue
		}
		out = append(out, cloneState(cs))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindIncomplete returns in_progress/timeout sessions older than maxAge.
func (m *MemoryStore) FindIncomplete(_ context.Context, maxAge time.Duration) ([]*state.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var out []*state.ConversationState
	for _, cs := range m.sessions {
		if cs.Status != state.StatusInProgress && cs.Status != state.StatusTimeout {
			continue
		}
		if !cs.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneState(cs))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Update rewrites the full session row.
func (m *MemoryStore) Update(_ context.Context, cs *state.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[cs.SessionID]
	if !ok {
		return ErrNotFound
	}

	updated := cloneState(cs)
	updated.ID = stored.ID
	updated.CreatedAt = stored.CreatedAt
	m.sessions[cs.SessionID] = updated
	return nil
}

func (m *MemoryStore) withSession(sessionID string, mutate func(*state.ConversationState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	mutate(cs)
	return nil
}

// AppendEvent atomically appends one event to the session's log.
func (m *MemoryStore) AppendEvent(_ context.Context, sessionID string, ev state.Event) error {
	return m.withSession(sessionID, func(cs *state.ConversationState) {
		cs.ApplyEvent(ev)
	})
}

// UpdateCheckpoint atomically overwrites the session's last checkpoint.
func (m *MemoryStore) UpdateCheckpoint(_ context.Context, sessionID string, cp state.Checkpoint) error {
	return m.withSession(sessionID, func(cs *state.ConversationState) {
		cs.SetCheckpoint(cp)
	})
}

// MarkCompleted transitions the session to completed.
func (m *MemoryStore) MarkCompleted(_ context.Context, sessionID string) error {
	return m.withSession(sessionID, func(cs *state.ConversationState) {
		cs.MarkCompleted()
	})
}

// MarkTimeout transitions the session to timeout.
func (m *MemoryStore) MarkTimeout(_ context.Context, sessionID string, timeoutAt time.Time) error {
	return m.withSession(sessionID, func(cs *state.ConversationState) {
		cs.MarkTimeout(timeoutAt)
	})
}

// Statistics aggregates counters for sessions created inside [start, end].
func (m *MemoryStore) Statistics(_ context.Context, start, end time.Time, channel state.Channel) (*Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Statistics{
		ByStatus:  make(map[string]int),
		ByChannel: make(map[string]int),
	}
	var durationSum float64
	var durationCount int

	for _, cs := range m.sessions {
		if cs.CreatedAt.Before(start) || cs.CreatedAt.After(end) {
			continue
		}
		if channel != "" && cs.Channel != channel {
			continue
		}

		stats.TotalConversations++
		stats.ByStatus[string(cs.Status)]++
		stats.ByChannel[string(cs.Channel)]++
		stats.TotalLLMCalls += cs.Metadata.LLMCalls
		stats.TotalTokens += cs.Metadata.TotalTokens

		if cs.CompletedAt != nil {
			durationSum += float64(cs.CompletedAt.Sub(cs.CreatedAt).Milliseconds())
			durationCount++
		}
	}

	if durationCount > 0 {
		stats.AvgDurationMS = durationSum / float64(durationCount)
	}
	return stats, nil
}

// DeleteOlderThan removes terminal sessions older than age.
func (m *MemoryStore) DeleteOlderThan(_ context.Context, age time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	var deleted int
	for id, cs := range m.sessions {
		switch cs.Status {
		case state.StatusCompleted, state.StatusError, state.StatusTimeout:
		default:
			continue
		}
		if cs.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
