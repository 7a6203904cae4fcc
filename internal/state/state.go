// ABOUTME: Conversation state model tracking a customer interaction's lifecycle.
// ABOUTME: Append-only event log, overwritable checkpoint, and derived metadata.

package state

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the contact medium for a conversation.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusTimeout    SessionStatus = "timeout"
	StatusError      SessionStatus = "error"
)

// Classification is the contact's relationship to the business.
type Classification string

const (
	ClassificationClient Classification = "client"
	ClassificationVendor Classification = "vendor"
	ClassificationLead   Classification = "lead"
)

// EventType categorizes a conversation event.
type EventType string

const (
	EventEmailReceived        EventType = "email_received"
	EventCallReceived         EventType = "call_received"
	EventAgentRouted          EventType = "agent_routed"
	EventLLMCall              EventType = "llm_call"
	EventAgentClassification  EventType = "agent_classification"
	EventWorkerCall           EventType = "worker_call"
	EventResponseSent         EventType = "response_sent"
	EventCallTransferred      EventType = "call_transferred"
	EventCheckpointCreated    EventType = "checkpoint_created"
	EventError                EventType = "error"
	EventContactInfoExtracted EventType = "contact_info_extracted"
	EventAgentResponse        EventType = "agent_response"
	EventConversationResumed  EventType = "conversation_resumed"
)

// Event is one entry in a conversation's append-only log. Never mutated
// after creation.
type Event struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	AgentName  string         `json:"agent_name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Checkpoint map[string]any `json:"checkpoint,omitempty"`
}

// Checkpoint is the latest durable snapshot of where processing stands for a
// session. At most one is held per session; it is overwritten, not appended.
type Checkpoint struct {
	Timestamp      time.Time      `json:"timestamp"`
	CurrentAgent   string         `json:"current_agent"`
	State          SessionStatus  `json:"state"`
	NextAction     string         `json:"next_action,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	PendingActions []string       `json:"pending_actions,omitempty"`
}

// Metadata holds counters derived incrementally as events are appended.
// It is never independently authoritative: TotalEvents always equals the
// length of the event log.
type Metadata struct {
	TotalEvents          int      `json:"total_events"`
	AgentsInvolved       []string `json:"agents_involved,omitempty"`
	LLMCalls             int      `json:"llm_calls"`
	TotalTokens          int      `json:"total_tokens"`
	ProcessingDurationMS *int64   `json:"processing_duration_ms,omitempty"`
	CallDurationSeconds  *int     `json:"call_duration_seconds,omitempty"`
}

// CallDirection distinguishes inbound from outbound phone sessions.
type CallDirection string

const (
	CallInbound  CallDirection = "inbound"
	CallOutbound CallDirection = "outbound"
)

// ConversationState is the aggregate root for one tracked customer
// interaction across email or phone. Mutation goes exclusively through the
// manager; the struct methods below keep the internal invariants.
type ConversationState struct {
	// ID is the storage-assigned row identifier; SessionID is the
	// caller-visible correlation key, immutable once assigned.
	ID        int64  `json:"id,omitempty"`
	SessionID string `json:"session_id"`

	Channel Channel `json:"channel"`

	// Email sessions.
	EmailID  string `json:"email_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`

	// Phone sessions.
	CallID        string        `json:"call_id,omitempty"`
	PhoneNumber   string        `json:"phone_number,omitempty"`
	CallDirection CallDirection `json:"call_direction,omitempty"`

	// ContactIdentifier is the canonical lookup key: an email address or a
	// phone number depending on channel.
	ContactIdentifier string         `json:"contact_identifier"`
	ContactName       string         `json:"contact_name,omitempty"`
	Classification    Classification `json:"classification,omitempty"`

	Status SessionStatus `json:"status"`

	Events         []Event     `json:"events"`
	LastCheckpoint *Checkpoint `json:"last_checkpoint,omitempty"`
	Metadata       Metadata    `json:"metadata"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TimeoutAt   *time.Time `json:"timeout_at,omitempty"`
}

// New constructs a conversation state with a fresh session ID and
// in_progress status. Channel-specific identifier validation is the
// manager's job, not the model's.
func New(channel Channel, contactIdentifier string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		SessionID:         uuid.New().String(),
		Channel:           channel,
		ContactIdentifier: contactIdentifier,
		Status:            StatusInProgress,
		Events:            []Event{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// AddEvent appends an event to the log and updates the derived metadata.
// Returns the created event.
func (s *ConversationState) AddEvent(eventType EventType, agentName string, data map[string]any, checkpoint map[string]any) Event {
	ev := Event{
		EventID:    uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Type:       eventType,
		AgentName:  agentName,
		Data:       data,
		Checkpoint: checkpoint,
	}
	s.ApplyEvent(ev)
	return ev
}

// ApplyEvent appends an already-constructed event and updates the derived
// metadata. Used by the repository when persisting events built elsewhere.
func (s *ConversationState) ApplyEvent(ev Event) {
	s.Events = append(s.Events, ev)
	s.UpdatedAt = time.Now().UTC()

	s.Metadata.TotalEvents = len(s.Events)
	if ev.AgentName != "" && !s.involves(ev.AgentName) {
		s.Metadata.AgentsInvolved = append(s.Metadata.AgentsInvolved, ev.AgentName)
	}
	if ev.Type == EventLLMCall {
		s.Metadata.LLMCalls++
		if tokens, ok := totalTokens(ev.Data); ok {
			s.Metadata.TotalTokens += tokens
		}
	}
}

func (s *ConversationState) involves(agentName string) bool {
	for _, a := range s.Metadata.AgentsInvolved {
		if a == agentName {
			return true
		}
	}
	return false
}

func totalTokens(data map[string]any) (int, bool) {
	v, ok := data["total_tokens"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// SetCheckpoint overwrites the session's last checkpoint.
func (s *ConversationState) SetCheckpoint(cp Checkpoint) {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.LastCheckpoint = &cp
	s.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the session to completed and records the total
// processing duration.
func (s *ConversationState) MarkCompleted() {
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now

	durationMS := now.Sub(s.CreatedAt).Milliseconds()
	s.Metadata.ProcessingDurationMS = &durationMS
}

// MarkTimeout transitions the session to timeout. A zero timeoutAt defaults
// to now.
func (s *ConversationState) MarkTimeout(timeoutAt time.Time) {
	if timeoutAt.IsZero() {
		timeoutAt = time.Now().UTC()
	}
	s.Status = StatusTimeout
	s.TimeoutAt = &timeoutAt
	s.UpdatedAt = time.Now().UTC()
}

// MarkError transitions the session to error and appends an error event
// carrying the supplied diagnostics.
func (s *ConversationState) MarkError(errorData map[string]any) {
	s.Status = StatusError
	s.UpdatedAt = time.Now().UTC()
	s.AddEvent(EventError, "", errorData, nil)
}

// DurationMS returns the session's total duration in milliseconds, or
// (0, false) if the session has not completed.
func (s *ConversationState) DurationMS() (int64, bool) {
	if s.CompletedAt == nil {
		return 0, false
	}
	return s.CompletedAt.Sub(s.CreatedAt).Milliseconds(), true
}

// EventsByType returns all events of the given type, in log order.
func (s *ConversationState) EventsByType(eventType EventType) []Event {
	var out []Event
	for _, ev := range s.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// EventsByAgent returns all events recorded by the named agent, in log order.
func (s *ConversationState) EventsByAgent(agentName string) []Event {
	var out []Event
	for _, ev := range s.Events {
		if ev.AgentName == agentName {
			out = append(out, ev)
		}
	}
	return out
}
