// ABOUTME: Tests for the conversation state manager over an in-memory store.
// ABOUTME: Verifies validation, boolean failure absorption, and lifecycle flow.

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-hq/switchboard/internal/state"
	"github.com/switchboard-hq/switchboard/internal/store"
)

func newManager() (*ConversationStateManager, *store.MemoryStore) {
	repo := store.NewMemoryStore()
	return New(repo), repo
}

func emailParams() StartSessionParams {
	return StartSessionParams{
		Channel:           state.ChannelEmail,
		ContactIdentifier: "alice@example.com",
		ContactName:       "Alice",
		EmailID:           "msg-1",
		ThreadID:          "thread-1",
		Data:              map[string]any{"subject": "hello"},
	}
}

func TestStartSession_Email(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, state.ChannelEmail, cs.Channel)
	assert.Equal(t, state.StatusInProgress, cs.Status)
	require.Len(t, cs.Events, 1)
	assert.Equal(t, state.EventEmailReceived, cs.Events[0].Type)
	assert.Equal(t, "hello", cs.Events[0].Data["subject"])
}

func TestStartSession_Phone(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, StartSessionParams{
		Channel:           state.ChannelPhone,
		ContactIdentifier: "+1-305-555-1234",
		CallID:            "call-1",
		PhoneNumber:       "+1-305-555-1234",
		CallDirection:     state.CallInbound,
	})
	require.NoError(t, err)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, cs.Events, 1)
	assert.Equal(t, state.EventCallReceived, cs.Events[0].Type)
	assert.Equal(t, state.CallInbound, cs.CallDirection)
}

func TestStartSession_Validation(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	_, err := m.StartSession(ctx, StartSessionParams{
		Channel:           state.ChannelEmail,
		ContactIdentifier: "alice@example.com",
	})
	assert.ErrorIs(t, err, ErrInvalidChannelConfig)

	_, err = m.StartSession(ctx, StartSessionParams{
		Channel:           state.ChannelPhone,
		ContactIdentifier: "+1-305-555-1234",
	})
	assert.ErrorIs(t, err, ErrInvalidChannelConfig)

	_, err = m.StartSession(ctx, StartSessionParams{
		Channel:           "fax",
		ContactIdentifier: "alice@example.com",
	})
	assert.ErrorIs(t, err, ErrInvalidChannelConfig)
}

func TestLogEvent(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	ok := m.LogEvent(ctx, sessionID, state.EventAgentRouted, "orchestrator",
		map[string]any{"target_agent": "email-agent"}, nil)
	assert.True(t, ok)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, cs.Events, 2)
	assert.Equal(t, state.EventAgentRouted, cs.Events[1].Type)
	assert.Equal(t, []string{"orchestrator"}, cs.Metadata.AgentsInvolved)
}

func TestLogEvent_UnknownSessionReturnsFalse(t *testing.T) {
	m, _ := newManager()
	ok := m.LogEvent(context.Background(), "missing", state.EventError, "", nil, nil)
	assert.False(t, ok)
}

func TestCreateCheckpoint_DefaultsToInProgress(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	ok := m.CreateCheckpoint(ctx, sessionID, "orchestrator", "", "route", nil, []string{"classify"})
	assert.True(t, ok)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, cs.LastCheckpoint)
	assert.Equal(t, state.StatusInProgress, cs.LastCheckpoint.State)
	assert.Equal(t, "route", cs.LastCheckpoint.NextAction)
	assert.Equal(t, []string{"classify"}, cs.LastCheckpoint.PendingActions)
}

func TestCompleteSession(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	assert.True(t, m.CompleteSession(ctx, sessionID))
	assert.False(t, m.CompleteSession(ctx, "missing"))

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, cs.Status)
}

func TestMarkError_AppendsDiagnosticEvent(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	ok := m.MarkError(ctx, sessionID, map[string]any{"error": "classification failed"})
	assert.True(t, ok)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusError, cs.Status)

	errs := cs.EventsByType(state.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "classification failed", errs[0].Data["error"])
}

func TestMarkError_UnknownSessionReturnsFalse(t *testing.T) {
	m, _ := newManager()
	assert.False(t, m.MarkError(context.Background(), "missing", nil))
}

func TestLookups(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	assert.NotNil(t, m.GetSession(ctx, sessionID))
	assert.NotNil(t, m.GetSessionByEmail(ctx, "msg-1"))
	assert.NotNil(t, m.GetSessionByThread(ctx, "thread-1"))

	assert.Nil(t, m.GetSession(ctx, "missing"))
	assert.Nil(t, m.GetSessionByEmail(ctx, "missing"))
	assert.Nil(t, m.GetSessionByCall(ctx, "missing"))
	assert.Nil(t, m.GetSessionByThread(ctx, "missing"))
}

func TestContactHistory(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	p := emailParams()
	_, err := m.StartSession(ctx, p)
	require.NoError(t, err)

	p.EmailID = "msg-2"
	p.ThreadID = "thread-2"
	_, err = m.StartSession(ctx, p)
	require.NoError(t, err)

	history := m.ContactHistory(ctx, "alice@example.com", 10, "")
	assert.Len(t, history, 2)

	assert.Empty(t, m.ContactHistory(ctx, "nobody@example.com", 10, ""))
}

func TestFindIncompleteSessions(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	cs.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.Update(ctx, cs))

	stale := m.FindIncompleteSessions(ctx, time.Hour)
	require.Len(t, stale, 1)
	assert.Equal(t, sessionID, stale[0].SessionID)
}

func TestStatisticsAndCleanup(t *testing.T) {
	m, repo := newManager()
	ctx := context.Background()

	sessionID, err := m.StartSession(ctx, emailParams())
	require.NoError(t, err)
	require.True(t, m.CompleteSession(ctx, sessionID))

	stats := m.Statistics(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), "")
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalConversations)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	cs.UpdatedAt = time.Now().UTC().Add(-100 * 24 * time.Hour)
	require.NoError(t, repo.Update(ctx, cs))

	deleted := m.CleanupOldSessions(ctx, 90*24*time.Hour)
	assert.Equal(t, 1, deleted)
}
