// ABOUTME: Urgent escalation transport abstraction and a log-only implementation.
// ABOUTME: Any agent can trigger a transfer when it detects an urgent situation.

// Package escalation defines the call-transfer collaborator used for
// urgent situations. The real transport lives outside this system; the
// LogTransport implementation records the transfer and succeeds, which
// keeps development and test environments self-contained.
package escalation

import (
	"context"
	"log/slog"
)

// Urgency levels recognized by escalation triggers.
const (
	UrgencyUrgent    = "URGENT"
	UrgencyImmediate = "IMMEDIATE"
)

// TransferRequest describes one urgent transfer to the on-call number.
type TransferRequest struct {
	FromIdentifier string         `json:"from_identifier"`
	ToNumber       string         `json:"to_number"`
	ContactName    string         `json:"contact_name"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body"`
	Urgency        string         `json:"urgency"`
	Reason         string         `json:"reason"`
	AgentName      string         `json:"agent_name"`
	ContactInfo    map[string]any `json:"contact_info,omitempty"`
}

// TransferResult reports the outcome of a transfer attempt. Status is
// "success" or "error"; Message carries diagnostics on failure.
type TransferResult struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// Succeeded reports whether the transfer went through.
func (r *TransferResult) Succeeded() bool {
	return r != nil && r.Status == "success"
}

// Transport performs urgent call transfers.
type Transport interface {
	TransferUrgent(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// LogTransport logs transfers without contacting any external system.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a transport that only logs.
func NewLogTransport() *LogTransport {
	return &LogTransport{logger: slog.Default().With("component", "escalation")}
}

func (t *LogTransport) TransferUrgent(_ context.Context, req TransferRequest) (*TransferResult, error) {
	t.logger.Warn("urgent escalation",
		"agent", req.AgentName,
		"contact", req.FromIdentifier,
		"urgency", req.Urgency,
		"reason", req.Reason,
		"to", req.ToNumber,
	)
	return &TransferResult{
		Status:    "success",
		MessageID: "log-only",
		AgentName: req.AgentName,
	}, nil
}
