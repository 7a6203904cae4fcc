// ABOUTME: Orchestrator agent: classifies inbound contacts and routes them.
// ABOUTME: Owns session identity across channels and duplicate inbound triggers.

// Package orchestrator implements the routing agent. Inbound emails and
// calls are resolved to a conversation session (existing by thread/call
// ID, or newly started), classified through the LLM collaborator, and
// the routing decision is recorded as an agent_routed event plus a
// checkpoint. The orchestrator also coordinates the lifecycle of the
// downstream agents it manages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/switchboard-hq/switchboard/internal/agent"
	"github.com/switchboard-hq/switchboard/internal/bus"
	"github.com/switchboard-hq/switchboard/internal/contacts"
	"github.com/switchboard-hq/switchboard/internal/extract"
	"github.com/switchboard-hq/switchboard/internal/llm"
	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/registry"
	"github.com/switchboard-hq/switchboard/internal/sessioncache"
	"github.com/switchboard-hq/switchboard/internal/state"
)

// Name is the orchestrator's fixed bus identity.
const Name = "orchestrator"

// ErrNotInitialized is returned by routing when no classifier or intent
// prompt is configured.
var ErrNotInitialized = errors.New("orchestrator not initialized for intent classification")

// Config wires the orchestrator's collaborators.
type Config struct {
	Bus          *bus.MessageBus
	Registry     *registry.AgentRegistry
	States       *manager.ConversationStateManager
	Classifier   llm.Classifier
	IntentPrompt *llm.PromptTemplate

	// Directory resolves inbound identifiers to known contacts; optional.
	Directory contacts.Directory

	// LookupCache bounds repeated directory lookups; optional.
	LookupCache *sessioncache.Cache
}

// Orchestrator classifies and routes inbound contacts.
type Orchestrator struct {
	cfg    Config
	runner *agent.Runner
	logger *slog.Logger

	mu     sync.Mutex
	agents []*agent.Runner
}

// New creates an orchestrator. Call Start before routing.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		logger: slog.Default().With("component", "orchestrator"),
	}
	o.runner = agent.NewRunner(agent.Config{
		Name:      Name,
		AgentType: "orchestrator",
		Bus:       cfg.Bus,
		Registry:  cfg.Registry,
		Handler:   o,
	})
	return o
}

// Capabilities implements agent.Handler.
func (o *Orchestrator) Capabilities() []string {
	return []string{"routing", "intent_classification", "coordination"}
}

// HandleMessage implements agent.Handler. Greetings are acknowledged;
// errors are logged; everything else is left to the routing API.
func (o *Orchestrator) HandleMessage(_ context.Context, msg *bus.Message) error {
	switch msg.Type {
	case bus.MessageTypeGreeting:
		ack := bus.NewMessage(bus.MessageTypeResponse, Name, msg.From, map[string]any{
			"message": fmt.Sprintf("Hello %s! Welcome to the conversation.", msg.From),
			"status":  "acknowledged",
		})
		ack.CorrelationID = msg.ID
		return o.cfg.Bus.Send(ack)
	case bus.MessageTypeError:
		o.logger.Error("agent reported error", "from", msg.From, "payload", msg.Payload)
	}
	return nil
}

// RegisterAgent adds an agent to the orchestrator's managed set.
func (o *Orchestrator) RegisterAgent(r *agent.Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents = append(o.agents, r)
}

// Start starts the orchestrator's own loop, then every managed agent.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.runner.Start(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	agents := append([]*agent.Runner(nil), o.agents...)
	o.mu.Unlock()

	for _, r := range agents {
		if err := r.Start(ctx); err != nil {
			o.logger.Error("failed to start agent", "agent", r.Name(), "error", err)
			return fmt.Errorf("starting agent %s: %w", r.Name(), err)
		}
	}

	o.logger.Info("orchestrator started", "agents", len(agents))
	return nil
}

// Stop stops every managed agent, then the orchestrator itself.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	agents := append([]*agent.Runner(nil), o.agents...)
	o.mu.Unlock()

	for _, r := range agents {
		r.Stop()
	}
	o.runner.Stop()
	o.logger.Info("orchestrator stopped")
}

// ActiveAgents returns registry entries for all active agents.
func (o *Orchestrator) ActiveAgents() []registry.AgentInfo {
	return o.cfg.Registry.List(registry.StatusActive)
}

// Broadcast sends a message to every registered agent.
func (o *Orchestrator) Broadcast(msgType bus.MessageType, payload map[string]any) error {
	return o.cfg.Bus.Send(bus.NewMessage(msgType, Name, "", payload))
}

// RoutingDecision is the structured outcome of a routing classification.
type RoutingDecision struct {
	TargetAgent    string         `json:"target_agent"`
	SubRoute       string         `json:"sub_route,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Raw            map[string]any `json:"-"`
}

// EmailRequest carries an inbound email for routing.
type EmailRequest struct {
	From    string
	To      string
	Subject string
	Body    string

	// SenderStatus is FOUND, NOT_FOUND, or UNKNOWN.
	SenderStatus    string
	Classification  state.Classification
	PreviousCount   int
	LastInteraction string

	EmailID     string
	ThreadID    string
	ContactName string
	PhoneNumber string

	// DisableTracking skips session creation and event logging.
	DisableTracking bool
}

// CallRequest carries an inbound or outbound call for routing.
type CallRequest struct {
	PhoneNumber    string
	CallerName     string
	CallID         string
	CallDirection  state.CallDirection
	InitialMessage string

	SenderStatus    string
	Classification  state.Classification
	PreviousCount   int
	LastInteraction string

	DisableTracking bool
}

// RouteEmail resolves the email to a session, classifies it, and logs
// the routing decision. An existing session for the same thread is
// appended to instead of duplicated. On classification failure the
// session is marked error and a nil decision is returned.
func (o *Orchestrator) RouteEmail(ctx context.Context, req EmailRequest) (*RoutingDecision, error) {
	if o.cfg.IntentPrompt == nil || o.cfg.Classifier == nil {
		return nil, ErrNotInitialized
	}

	senderStatus := req.SenderStatus
	if senderStatus == "" {
		senderStatus = "UNKNOWN"
	}
	lastInteraction := req.LastInteraction
	if lastInteraction == "" {
		lastInteraction = "Never"
	}

	var sessionID string
	if !req.DisableTracking && req.EmailID != "" {
		sessionID = o.trackEmail(ctx, req, senderStatus)
	}

	variables := map[string]any{
		"from_email":       req.From,
		"sender_status":    senderStatus,
		"classification":   classificationVar(req.Classification),
		"subject":          req.Subject,
		"body":             req.Body,
		"previous_count":   req.PreviousCount,
		"last_interaction": lastInteraction,
	}

	decision, err := o.classify(ctx, sessionID, variables)
	if err != nil {
		o.logger.Error("failed to route email", "from", req.From, "error", err)
		if sessionID != "" {
			o.cfg.States.MarkError(ctx, sessionID, map[string]any{
				"error": err.Error(),
				"step":  "routing",
			})
		}
		return nil, err
	}

	if sessionID != "" {
		o.recordRouting(ctx, sessionID, decision, nil, map[string]any{
			"email_id":  req.EmailID,
			"thread_id": req.ThreadID,
			"sub_route": decision.SubRoute,
		})
		decision.SessionID = sessionID
	}

	o.logger.Info("email routed",
		"from", req.From,
		"target_agent", decision.TargetAgent,
		"session_id", sessionID,
	)
	return decision, nil
}

// RouteCall is the phone counterpart of RouteEmail, keyed by call ID.
func (o *Orchestrator) RouteCall(ctx context.Context, req CallRequest) (*RoutingDecision, error) {
	if o.cfg.IntentPrompt == nil || o.cfg.Classifier == nil {
		return nil, ErrNotInitialized
	}

	senderStatus := req.SenderStatus
	if senderStatus == "" {
		senderStatus = "UNKNOWN"
	}
	lastInteraction := req.LastInteraction
	if lastInteraction == "" {
		lastInteraction = "Never"
	}
	direction := req.CallDirection
	if direction == "" {
		direction = state.CallInbound
	}

	var sessionID string
	if !req.DisableTracking && req.CallID != "" {
		sessionID = o.trackCall(ctx, req, direction, senderStatus)
	}

	caller := req.CallerName
	if caller == "" {
		caller = req.PhoneNumber
	}
	body := req.InitialMessage
	if body == "" {
		body = "Phone conversation (no transcription)"
	}

	variables := map[string]any{
		"from_email":       req.PhoneNumber,
		"sender_status":    senderStatus,
		"classification":   classificationVar(req.Classification),
		"subject":          fmt.Sprintf("Phone call from %s", caller),
		"body":             body,
		"previous_count":   req.PreviousCount,
		"last_interaction": lastInteraction,
	}

	decision, err := o.classify(ctx, sessionID, variables)
	if err != nil {
		o.logger.Error("failed to route call", "phone", req.PhoneNumber, "error", err)
		if sessionID != "" {
			o.cfg.States.MarkError(ctx, sessionID, map[string]any{
				"error": err.Error(),
				"step":  "phone_routing",
			})
		}
		return nil, err
	}

	if sessionID != "" {
		o.recordRouting(ctx, sessionID, decision,
			map[string]any{"call_direction": string(direction)},
			map[string]any{
				"call_id":      req.CallID,
				"phone_number": req.PhoneNumber,
				"sub_route":    decision.SubRoute,
			})
		decision.SessionID = sessionID
	}

	o.logger.Info("call routed",
		"phone", req.PhoneNumber,
		"target_agent", decision.TargetAgent,
		"session_id", sessionID,
	)
	return decision, nil
}

// trackEmail resumes the thread's session or starts a new one. Returns
// "" when tracking could not be established; routing continues without.
func (o *Orchestrator) trackEmail(ctx context.Context, req EmailRequest, senderStatus string) string {
	if req.ThreadID != "" {
		if existing := o.cfg.States.GetSessionByThread(ctx, req.ThreadID); existing != nil {
			o.logger.Info("resuming conversation",
				"session_id", existing.SessionID,
				"thread_id", req.ThreadID,
			)
			o.cfg.States.LogEvent(ctx, existing.SessionID, state.EventEmailReceived, "", map[string]any{
				"from":          req.From,
				"to":            req.To,
				"subject":       req.Subject,
				"body":          req.Body,
				"sender_status": senderStatus,
				"phone_number":  req.PhoneNumber,
				"email_id":      req.EmailID,
			}, nil)
			return existing.SessionID
		}
	}

	sessionID, err := o.cfg.States.StartSession(ctx, manager.StartSessionParams{
		Channel:           state.ChannelEmail,
		ContactIdentifier: req.From,
		ContactName:       req.ContactName,
		Classification:    req.Classification,
		EmailID:           req.EmailID,
		ThreadID:          req.ThreadID,
		PhoneNumber:       req.PhoneNumber,
		Data: map[string]any{
			"from":          req.From,
			"to":            req.To,
			"subject":       req.Subject,
			"body":          req.Body,
			"sender_status": senderStatus,
			"phone_number":  req.PhoneNumber,
		},
	})
	if err != nil {
		o.logger.Error("failed to start conversation tracking", "error", err)
		return ""
	}

	o.logger.Info("started new conversation", "session_id", sessionID, "thread_id", req.ThreadID)
	return sessionID
}

// trackCall resumes the call's session (transfer or reconnect) or
// starts a new one.
func (o *Orchestrator) trackCall(ctx context.Context, req CallRequest, direction state.CallDirection, senderStatus string) string {
	if existing := o.cfg.States.GetSessionByCall(ctx, req.CallID); existing != nil {
		o.logger.Info("resuming phone conversation",
			"session_id", existing.SessionID,
			"call_id", req.CallID,
		)
		initial := req.InitialMessage
		if initial == "" {
			initial = "Call continued"
		}
		o.cfg.States.LogEvent(ctx, existing.SessionID, state.EventCallReceived, "", map[string]any{
			"caller_id":       req.PhoneNumber,
			"call_direction":  string(direction),
			"initial_message": initial,
			"sender_status":   senderStatus,
			"call_status":     "resumed",
		}, nil)
		return existing.SessionID
	}

	initial := req.InitialMessage
	if initial == "" {
		initial = "No transcription available"
	}
	sessionID, err := o.cfg.States.StartSession(ctx, manager.StartSessionParams{
		Channel:           state.ChannelPhone,
		ContactIdentifier: req.PhoneNumber,
		ContactName:       req.CallerName,
		Classification:    req.Classification,
		CallID:            req.CallID,
		PhoneNumber:       req.PhoneNumber,
		CallDirection:     direction,
		Data: map[string]any{
			"caller_id":       req.PhoneNumber,
			"call_direction":  string(direction),
			"initial_message": initial,
			"sender_status":   senderStatus,
		},
	})
	if err != nil {
		o.logger.Error("failed to start phone conversation tracking", "error", err)
		return ""
	}

	o.logger.Info("started new phone conversation", "session_id", sessionID, "call_id", req.CallID)
	return sessionID
}

func (o *Orchestrator) classify(ctx context.Context, sessionID string, variables map[string]any) (*RoutingDecision, error) {
	result, err := o.cfg.Classifier.Classify(ctx, *o.cfg.IntentPrompt, variables)
	if err != nil {
		return nil, err
	}
	if result == nil || result.Fields == nil {
		return nil, &llm.ClassificationError{
			Template: o.cfg.IntentPrompt.Name,
			Err:      errors.New("empty classification result"),
		}
	}

	if sessionID != "" && result.Usage != nil {
		o.cfg.States.LogEvent(ctx, sessionID, state.EventLLMCall, Name, map[string]any{
			"model":             o.cfg.IntentPrompt.Model,
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		}, nil)
	}

	return decisionFromFields(result.Fields), nil
}

// recordRouting logs the agent_routed event and writes the checkpoint
// pointing downstream. Logging failures degrade the record but never
// fail the routing call.
func (o *Orchestrator) recordRouting(ctx context.Context, sessionID string, decision *RoutingDecision, extraData, checkpointCtx map[string]any) {
	data := map[string]any{
		"target_agent":   decision.TargetAgent,
		"sub_route":      decision.SubRoute,
		"classification": decision.Classification,
		"reasoning":      decision.Reasoning,
		"confidence":     decision.Confidence,
	}
	for k, v := range extraData {
		data[k] = v
	}
	o.cfg.States.LogEvent(ctx, sessionID, state.EventAgentRouted, Name, data, nil)

	o.cfg.States.CreateCheckpoint(ctx, sessionID, Name, state.StatusInProgress,
		decision.TargetAgent, checkpointCtx, nil)
}

// ResolveOpenSession checks whether the contact behind an email or
// phone identifier already has an open conversation and, if so, returns
// that session instead of the current one. The directory is consulted
// first so a caller's email session and phone session resolve to the
// same person; the most recently updated open session wins. A switch is
// recorded as a conversation_resumed event on the winning session.
func (o *Orchestrator) ResolveOpenSession(ctx context.Context, currentSessionID, email, phone string) (string, bool) {
	identifiers, found := o.harvestIdentifiers(ctx, email, phone)
	if len(identifiers) == 0 {
		return currentSessionID, false
	}

	seen := make(map[string]bool)
	var open []*state.ConversationState
	for _, id := range identifiers {
		for _, cs := range o.cfg.States.ContactHistory(ctx, id, 10, "") {
			if cs.Status != state.StatusInProgress || seen[cs.SessionID] {
				continue
			}
			seen[cs.SessionID] = true
			open = append(open, cs)
		}
	}
	if len(open) == 0 {
		o.logger.Info("no open conversations found", "contact", identifiers[0])
		return currentSessionID, false
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].UpdatedAt.After(open[j].UpdatedAt)
	})
	winner := open[0]
	if winner.SessionID == currentSessionID {
		return currentSessionID, false
	}

	o.logger.Info("found open conversation",
		"contact", identifiers[0],
		"session_id", winner.SessionID,
		"previous_session_id", currentSessionID,
	)
	o.cfg.States.LogEvent(ctx, winner.SessionID, state.EventConversationResumed, "", map[string]any{
		"previous_session_id": currentSessionID,
		"contact_identifier":  identifiers[0],
		"reason":              "open_conversation_found",
		"found_in_directory":  found,
	}, nil)

	return winner.SessionID, true
}

// ResolveFromMessage extracts contact identifiers from a message body,
// logs them on the session, and resolves any open conversation for the
// same contact. Returns the session to continue with.
func (o *Orchestrator) ResolveFromMessage(ctx context.Context, currentSessionID, body string) (string, extract.ContactInfo) {
	info := extract.Contacts(body)
	if info.Email == "" && info.Phone == "" {
		return currentSessionID, info
	}

	sessionID, _ := o.ResolveOpenSession(ctx, currentSessionID, info.Email, info.Phone)

	o.cfg.States.LogEvent(ctx, sessionID, state.EventContactInfoExtracted, "", map[string]any{
		"email":             info.Email,
		"phone":             info.Phone,
		"extraction_method": "regex",
		"source":            "message_body",
	}, nil)

	return sessionID, info
}

// harvestIdentifiers expands an email/phone pair into every identifier
// the directory knows for the same contact. The boolean reports whether
// the contact was found in the directory.
func (o *Orchestrator) harvestIdentifiers(ctx context.Context, email, phone string) ([]string, bool) {
	var contact *contacts.Contact
	if o.cfg.Directory != nil {
		for _, id := range []string{email, phone} {
			if id == "" {
				continue
			}
			if c := o.lookupContact(ctx, id); c != nil {
				contact = c
				break
			}
		}
	}

	if contact != nil {
		o.logger.Info("contact found in directory", "name", contact.Name)
		return contact.Identifiers(), true
	}

	var out []string
	if email != "" {
		out = append(out, email)
	}
	if phone != "" {
		out = append(out, phone)
	}
	return out, false
}

func (o *Orchestrator) lookupContact(ctx context.Context, identifier string) *contacts.Contact {
	if o.cfg.LookupCache != nil {
		if cached, ok := o.cfg.LookupCache.Get(identifier); ok {
			c, _ := cached.(*contacts.Contact)
			return c
		}
	}

	c, err := o.cfg.Directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, contacts.ErrContactNotFound) {
			o.logger.Warn("directory lookup failed", "identifier", identifier, "error", err)
			return nil
		}
		c = nil
	}

	if o.cfg.LookupCache != nil {
		o.cfg.LookupCache.Put(identifier, c)
	}
	return c
}

func classificationVar(c state.Classification) string {
	if c == "" {
		return "null"
	}
	return string(c)
}

func decisionFromFields(fields map[string]any) *RoutingDecision {
	return &RoutingDecision{
		TargetAgent:    stringField(fields, "target_agent"),
		SubRoute:       stringField(fields, "sub_route"),
		Classification: stringField(fields, "classification"),
		Reasoning:      stringField(fields, "reasoning"),
		Confidence:     floatField(fields, "confidence"),
		Raw:            fields,
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
