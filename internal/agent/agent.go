// ABOUTME: Agent lifecycle runner: registration, greeting, and the receive loop.
// ABOUTME: Handlers plug in role-specific behavior; the runner owns everything else.

// Package agent provides the shared lifecycle for every agent in the
// system. A Handler implements the role-specific capabilities and
// message handling; the Runner wraps it with bus/registry registration,
// the greeting broadcast, the receive loop, and the classification and
// escalation helpers available to all agents.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/switchboard-hq/switchboard/internal/bus"
	"github.com/switchboard-hq/switchboard/internal/escalation"
	"github.com/switchboard-hq/switchboard/internal/llm"
	"github.com/switchboard-hq/switchboard/internal/manager"
	"github.com/switchboard-hq/switchboard/internal/registry"
	"github.com/switchboard-hq/switchboard/internal/state"
)

const receiveTimeout = time.Second

// Handler implements an agent's role-specific behavior.
type Handler interface {
	// Capabilities names what this agent can do. Announced in the
	// greeting and stored in the registry.
	Capabilities() []string

	// HandleMessage processes one inbound message. Returning an error
	// never stops the receive loop; request messages get an error
	// response on the sender's behalf.
	HandleMessage(ctx context.Context, msg *bus.Message) error
}

type phase int

const (
	phaseStopped phase = iota
	phaseStarting
	phaseRunning
	phaseStopping
)

// Config wires a Runner's collaborators. Bus, Registry, and Handler are
// required; the rest enable the optional helpers.
type Config struct {
	Name      string
	AgentType string
	Bus       *bus.MessageBus
	Registry  *registry.AgentRegistry
	Handler   Handler

	// Optional intent classification support.
	Classifier   llm.Classifier
	IntentPrompt *llm.PromptTemplate
	States       *manager.ConversationStateManager

	// Optional urgent escalation support.
	Escalation   escalation.Transport
	OnCallNumber string
}

// Runner drives one agent's lifecycle.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	phase  phase
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a stopped runner for the given configuration.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: slog.Default().With("component", "agent", "agent", cfg.Name),
	}
}

// Name returns the agent's bus name.
func (r *Runner) Name() string { return r.cfg.Name }

// Start registers the agent, broadcasts a greeting, and launches the
// receive loop. Starting an already-started runner is an error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != phaseStopped {
		r.mu.Unlock()
		return fmt.Errorf("agent %s already started", r.cfg.Name)
	}
	r.phase = phaseStarting

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	r.cfg.Bus.RegisterAgent(r.cfg.Name)
	r.cfg.Registry.Register(registry.AgentInfo{
		Name:         r.cfg.Name,
		AgentType:    r.cfg.AgentType,
		Capabilities: r.cfg.Handler.Capabilities(),
		Status:       registry.StatusActive,
	})

	greeting := bus.NewMessage(bus.MessageTypeGreeting, r.cfg.Name, "", map[string]any{
		"message":      fmt.Sprintf("Hello from %s!", r.cfg.Name),
		"agent_type":   r.cfg.AgentType,
		"capabilities": r.cfg.Handler.Capabilities(),
	})
	if err := r.cfg.Bus.Send(greeting); err != nil {
		r.logger.Warn("greeting broadcast failed", "error", err)
	}

	r.mu.Lock()
	// Stop may have been called while we were registering.
	if r.phase != phaseStarting {
		r.mu.Unlock()
		close(done)
		r.teardown()
		return fmt.Errorf("agent %s stopped during startup", r.cfg.Name)
	}
	r.phase = phaseRunning
	r.mu.Unlock()

	go r.loop(loopCtx, done)

	r.logger.Info("agent started", "type", r.cfg.AgentType)
	return nil
}

// Stop cancels the receive loop, waits for it to exit, and unregisters
// the agent. Safe to call multiple times and from any phase.
func (r *Runner) Stop() {
	r.mu.Lock()
	switch r.phase {
	case phaseStopped, phaseStopping:
		r.mu.Unlock()
		return
	case phaseStarting:
		// Flag the in-flight Start to abort; it handles teardown.
		r.phase = phaseStopping
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
		return
	}
	r.phase = phaseStopping
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.teardown()
	r.logger.Info("agent stopped")
}

func (r *Runner) teardown() {
	r.cfg.Bus.UnregisterAgent(r.cfg.Name)
	r.cfg.Registry.Unregister(r.cfg.Name)

	r.mu.Lock()
	r.phase = phaseStopped
	r.mu.Unlock()
}

// Running reports whether the receive loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == phaseRunning
}

// Send puts a message on the bus.
func (r *Runner) Send(msg *bus.Message) error {
	return r.cfg.Bus.Send(msg)
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	r.logger.Info("message processing loop started")

	for {
		msg, err := r.cfg.Bus.Receive(ctx, r.cfg.Name, receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("message processing loop stopped")
				return
			}
			r.logger.Error("receive failed", "error", err)
			continue
		}
		if msg == nil {
			continue
		}

		r.logger.Info("received message", "from", msg.From, "type", msg.Type)
		r.cfg.Registry.Heartbeat(r.cfg.Name)

		if err := r.cfg.Handler.HandleMessage(ctx, msg); err != nil {
			r.logger.Error("message handling failed",
				"from", msg.From,
				"type", msg.Type,
				"error", err,
			)

			if msg.Type == bus.MessageTypeRequest {
				resp := bus.NewMessage(bus.MessageTypeResponse, r.cfg.Name, msg.From, map[string]any{
					"status":  "error",
					"message": fmt.Sprintf("Error processing request: %v", err),
					"agent":   r.cfg.Name,
				})
				resp.CorrelationID = msg.ID
				if sendErr := r.cfg.Bus.Send(resp); sendErr != nil {
					r.logger.Error("failed to send error response", "error", sendErr)
				}
			}
		}
	}
}

// ClassifyIntent runs the agent's intent prompt against the classifier
// and optionally logs an agent_classification event. Returns nil when
// no prompt or classifier is configured.
func (r *Runner) ClassifyIntent(ctx context.Context, variables map[string]any, sessionID string) (*llm.ClassificationResult, error) {
	if r.cfg.IntentPrompt == nil {
		r.logger.Warn("no intent prompt configured, cannot classify")
		return nil, nil
	}
	if r.cfg.Classifier == nil {
		r.logger.Warn("no classifier configured, cannot classify")
		return nil, nil
	}

	result, err := r.cfg.Classifier.Classify(ctx, *r.cfg.IntentPrompt, variables)
	if err != nil {
		return nil, err
	}

	if sessionID != "" && r.cfg.States != nil && result != nil {
		data := map[string]any{"classification": result.Fields}
		if result.Usage != nil {
			data["total_tokens"] = result.Usage.TotalTokens
		}
		r.cfg.States.LogEvent(ctx, sessionID, state.EventAgentClassification, r.cfg.Name, data, nil)
	}

	return result, nil
}

// EscalateUrgent triggers the call-transfer collaborator. Failures are
// converted into an error-status result rather than propagated.
func (r *Runner) EscalateUrgent(ctx context.Context, req escalation.TransferRequest) *escalation.TransferResult {
	r.logger.Warn("urgent situation detected",
		"contact", req.FromIdentifier,
		"urgency", req.Urgency,
		"reason", req.Reason,
	)

	if r.cfg.Escalation == nil {
		return &escalation.TransferResult{
			Status:    "error",
			Message:   "no escalation transport configured",
			AgentName: r.cfg.Name,
		}
	}

	req.AgentName = r.cfg.Name
	if req.ToNumber == "" {
		req.ToNumber = r.cfg.OnCallNumber
	}

	result, err := r.cfg.Escalation.TransferUrgent(ctx, req)
	if err != nil {
		r.logger.Error("urgent escalation failed", "error", err)
		return &escalation.TransferResult{
			Status:    "error",
			Message:   fmt.Sprintf("exception during escalation: %v", err),
			AgentName: r.cfg.Name,
		}
	}

	if result.Succeeded() {
		r.logger.Info("urgent notification sent", "to", req.ToNumber, "message_id", result.MessageID)
	} else {
		r.logger.Error("urgent notification rejected", "message", result.Message)
	}
	return result
}
