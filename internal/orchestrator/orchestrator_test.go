// ABOUTME: Tests for routing, session identity, and open-conversation resolution.
// ABOUTME: Uses a scripted classifier and an in-memory store and directory.

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-hq/switchboard/internal/bus"
	"github.com/switchboard-hq/switchboard/internal/contacts"
	"github.com/switchboard-hq/switchboard/internal/llm"
	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/registry"
	"github.com/switchboard-hq/switchboard/internal/state"
	"github.com/switchboard-hq/switchboard/internal/store"
)

type scriptedClassifier struct {
	fields map[string]any
	usage  *llm.TokenUsage
	err    error
	calls  int
}

func (c *scriptedClassifier) Classify(context.Context, llm.PromptTemplate, map[string]any) (*llm.ClassificationResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ClassificationResult{Fields: c.fields, Usage: c.usage}, nil
}

func routingFields() map[string]any {
	return map[string]any{
		"target_agent":   "email-agent",
		"sub_route":      "billing",
		"classification": "client",
		"reasoning":      "invoice question from a known client",
		"confidence":     0.93,
	}
}

func newOrchestrator(c llm.Classifier, dir contacts.Directory) (*Orchestrator, *store.MemoryStore) {
	repo := store.NewMemoryStore()
	o := New(Config{
		Bus:          bus.New(slog.Default()),
		Registry:     registry.New(slog.Default()),
		States:       manager.New(repo),
		Classifier:   c,
		IntentPrompt: &llm.PromptTemplate{Name: "routing", Model: "test-model", UserPromptTemplate: "{body}"},
		Directory:    dir,
	})
	return o, repo
}

func emailReq() EmailRequest {
	return EmailRequest{
		From:         "alice@example.com",
		To:           "support@switchboard.example",
		Subject:      "Invoice question",
		Body:         "When is payment due?",
		SenderStatus: "FOUND",
		EmailID:      "msg-1",
		ThreadID:     "thread-1",
		ContactName:  "Alice",
	}
}

func TestRouteEmail_NewSession(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields(), usage: &llm.TokenUsage{TotalTokens: 80}}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	decision, err := o.RouteEmail(ctx, emailReq())
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, "email-agent", decision.TargetAgent)
	assert.Equal(t, "billing", decision.SubRoute)
	assert.Equal(t, 0.93, decision.Confidence)
	require.NotEmpty(t, decision.SessionID)

	cs, err := repo.FindBySessionID(ctx, decision.SessionID)
	require.NoError(t, err)
	assert.Equal(t, state.ChannelEmail, cs.Channel)
	assert.Equal(t, "alice@example.com", cs.ContactIdentifier)

	assert.Len(t, cs.EventsByType(state.EventEmailReceived), 1)
	assert.Len(t, cs.EventsByType(state.EventLLMCall), 1)
	routed := cs.EventsByType(state.EventAgentRouted)
	require.Len(t, routed, 1)
	assert.Equal(t, "email-agent", routed[0].Data["target_agent"])
	assert.Equal(t, Name, routed[0].AgentName)

	require.NotNil(t, cs.LastCheckpoint)
	assert.Equal(t, Name, cs.LastCheckpoint.CurrentAgent)
	assert.Equal(t, "email-agent", cs.LastCheckpoint.NextAction)
	assert.Equal(t, "thread-1", cs.LastCheckpoint.Context["thread_id"])

	assert.Equal(t, 80, cs.Metadata.TotalTokens)
}

func TestRouteEmail_ResumesThread(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	first, err := o.RouteEmail(ctx, emailReq())
	require.NoError(t, err)

	followup := emailReq()
	followup.EmailID = "msg-2"
	followup.Body = "Following up on my invoice"
	second, err := o.RouteEmail(ctx, followup)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID, "same thread reuses the session")

	cs, err := repo.FindBySessionID(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, cs.EventsByType(state.EventEmailReceived), 2)
	assert.Len(t, cs.EventsByType(state.EventAgentRouted), 2)
}

func TestRouteEmail_ClassificationFailureMarksError(t *testing.T) {
	cls := &scriptedClassifier{err: &llm.ClassificationError{Template: "routing", Err: errors.New("model unavailable")}}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	decision, err := o.RouteEmail(ctx, emailReq())
	assert.Nil(t, decision)
	require.Error(t, err)

	cs, err := repo.FindByEmailID(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusError, cs.Status)

	errEvents := cs.EventsByType(state.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, "routing", errEvents[0].Data["step"])
}

func TestRouteEmail_TrackingDisabled(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, repo := newOrchestrator(cls, nil)

	req := emailReq()
	req.DisableTracking = true
	decision, err := o.RouteEmail(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, decision.SessionID)

	_, err = repo.FindByEmailID(context.Background(), "msg-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouteEmail_NotInitialized(t *testing.T) {
	repo := store.NewMemoryStore()
	o := New(Config{
		Bus:      bus.New(slog.Default()),
		Registry: registry.New(slog.Default()),
		States:   manager.New(repo),
	})

	_, err := o.RouteEmail(context.Background(), emailReq())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRouteCall_NewSession(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	decision, err := o.RouteCall(ctx, CallRequest{
		PhoneNumber:    "+1-305-555-1234",
		CallerName:     "Alice",
		CallID:         "call-1",
		InitialMessage: "I have a billing question",
	})
	require.NoError(t, err)
	require.NotEmpty(t, decision.SessionID)

	cs, err := repo.FindByCallID(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, state.ChannelPhone, cs.Channel)
	assert.Equal(t, state.CallInbound, cs.CallDirection)

	routed := cs.EventsByType(state.EventAgentRouted)
	require.Len(t, routed, 1)
	assert.Equal(t, "inbound", routed[0].Data["call_direction"])

	require.NotNil(t, cs.LastCheckpoint)
	assert.Equal(t, "call-1", cs.LastCheckpoint.Context["call_id"])
}

func TestRouteCall_ReconnectReusesSession(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	first, err := o.RouteCall(ctx, CallRequest{
		PhoneNumber: "+1-305-555-1234",
		CallID:      "call-1",
	})
	require.NoError(t, err)

	second, err := o.RouteCall(ctx, CallRequest{
		PhoneNumber: "+1-305-555-1234",
		CallID:      "call-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	cs, err := repo.FindByCallID(ctx, "call-1")
	require.NoError(t, err)
	received := cs.EventsByType(state.EventCallReceived)
	require.Len(t, received, 2)
	assert.Equal(t, "resumed", received[1].Data["call_status"])
}

func TestResolveOpenSession_DirectoryLinksChannels(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	dir := contacts.NewStaticDirectory(&contacts.Contact{
		ID:    "1",
		Name:  "Alice",
		Email: "alice@example.com",
		Phone: "+1-305-555-1234",
	})
	o, repo := newOrchestrator(cls, dir)
	ctx := context.Background()

	// Older open email session for the same person.
	emailDecision, err := o.RouteEmail(ctx, emailReq())
	require.NoError(t, err)
	emailSession, err := repo.FindBySessionID(ctx, emailDecision.SessionID)
	require.NoError(t, err)
	emailSession.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Update(ctx, emailSession))

	// New phone session; the caller mentions only their phone number.
	callDecision, err := o.RouteCall(ctx, CallRequest{
		PhoneNumber: "+1-305-555-1234",
		CallID:      "call-1",
	})
	require.NoError(t, err)

	resolved, resumed := o.ResolveOpenSession(ctx, emailDecision.SessionID, "", "+1-305-555-1234")
	assert.True(t, resumed)
	assert.Equal(t, callDecision.SessionID, resolved, "most recently updated open session wins")

	winner, err := repo.FindBySessionID(ctx, resolved)
	require.NoError(t, err)
	resumedEvents := winner.EventsByType(state.EventConversationResumed)
	require.Len(t, resumedEvents, 1)
	assert.Equal(t, emailDecision.SessionID, resumedEvents[0].Data["previous_session_id"])
	assert.Equal(t, true, resumedEvents[0].Data["found_in_directory"])
}

func TestResolveOpenSession_NoOpenConversations(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, _ := newOrchestrator(cls, nil)

	resolved, resumed := o.ResolveOpenSession(context.Background(), "current", "nobody@example.com", "")
	assert.False(t, resumed)
	assert.Equal(t, "current", resolved)
}

func TestResolveOpenSession_SameSessionIsNotASwitch(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, _ := newOrchestrator(cls, nil)
	ctx := context.Background()

	decision, err := o.RouteEmail(ctx, emailReq())
	require.NoError(t, err)

	resolved, resumed := o.ResolveOpenSession(ctx, decision.SessionID, "alice@example.com", "")
	assert.False(t, resumed)
	assert.Equal(t, decision.SessionID, resolved)
}

func TestResolveFromMessage_LogsExtractedContact(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, repo := newOrchestrator(cls, nil)
	ctx := context.Background()

	decision, err := o.RouteEmail(ctx, emailReq())
	require.NoError(t, err)

	sessionID, info := o.ResolveFromMessage(ctx, decision.SessionID,
		"You can also reach me at alice@example.com or (305) 555-1234")
	assert.Equal(t, decision.SessionID, sessionID)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, "+1-305-555-1234", info.Phone)

	cs, err := repo.FindBySessionID(ctx, sessionID)
	require.NoError(t, err)
	extracted := cs.EventsByType(state.EventContactInfoExtracted)
	require.Len(t, extracted, 1)
	assert.Equal(t, "regex", extracted[0].Data["extraction_method"])
}

func TestOrchestrator_GreetingAcknowledged(t *testing.T) {
	cls := &scriptedClassifier{fields: routingFields()}
	o, _ := newOrchestrator(cls, nil)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	b := o.cfg.Bus
	b.RegisterAgent("worker")

	greeting := bus.NewMessage(bus.MessageTypeGreeting, "worker", Name, map[string]any{
		"message": "Hello from worker!",
	})
	require.NoError(t, b.Send(greeting))

	ack, err := b.Receive(context.Background(), "worker", 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, bus.MessageTypeResponse, ack.Type)
	assert.Equal(t, "acknowledged", ack.Payload["status"])
	assert.Equal(t, greeting.ID, ack.CorrelationID)
}
