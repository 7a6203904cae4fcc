// ABOUTME: Directory of agent identity, capabilities, and liveness status.
// ABOUTME: Pure bookkeeping, independent of message delivery.

package registry

import (
	"log/slog"
	"sync"
	"time"
)

// Status is an agent's liveness state in the registry.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// AgentInfo describes a registered agent. Entries are owned by the registry
// and mutated only through registry operations.
type AgentInfo struct {
	Name         string            `json:"name"`
	AgentType    string            `json:"agent_type"`
	Status       Status            `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AgentRegistry tracks agent identity and status. Mutation failures are never
// fatal to the caller: updates to unknown agents are silent no-ops.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentInfo
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *AgentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentRegistry{
		agents: make(map[string]*AgentInfo),
		logger: logger.With("component", "registry"),
	}
}

// Register upserts an agent entry keyed by name. Zero timestamps and status
// are filled in.
func (r *AgentRegistry) Register(info AgentInfo) {
	now := time.Now().UTC()
	if info.Status == "" {
		info.Status = StatusActive
	}
	if info.RegisteredAt.IsZero() {
		info.RegisteredAt = now
	}
	if info.LastSeen.IsZero() {
		info.LastSeen = now
	}

	r.mu.Lock()
	r.agents[info.Name] = &info
	r.mu.Unlock()

	r.logger.Info("agent registered",
		"agent", info.Name,
		"type", info.AgentType,
		"capabilities", info.Capabilities,
	)
}

// Unregister removes an agent. No-op if absent.
func (r *AgentRegistry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.agents[name]
	delete(r.agents, name)
	r.mu.Unlock()

	if existed {
		r.logger.Info("agent unregistered", "agent", name)
	}
}

// Get returns a copy of the named agent's entry, or nil if unknown.
func (r *AgentRegistry) Get(name string) *AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.agents[name]
	if !ok {
		return nil
	}
	c := *info
	return &c
}

// List returns copies of all entries, optionally filtered by status.
// Pass an empty status for no filter.
func (r *AgentRegistry) List(status Status) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		if status != "" && info.Status != status {
			continue
		}
		out = append(out, *info)
	}
	return out
}

// UpdateStatus sets the agent's status and refreshes last_seen.
// No-op (not an error) if the agent is unknown.
func (r *AgentRegistry) UpdateStatus(name string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return
	}
	info.Status = status
	info.LastSeen = time.Now().UTC()
}

// Heartbeat refreshes the agent's last_seen timestamp.
// No-op if the agent is unknown.
func (r *AgentRegistry) Heartbeat(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return
	}
	info.LastSeen = time.Now().UTC()
}
