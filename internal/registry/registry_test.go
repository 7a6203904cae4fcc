// ABOUTME: Tests for the agent registry directory.
// ABOUTME: Covers upsert, listing with status filters, heartbeats, and no-op semantics.

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRegistry_Register_Upsert(t *testing.T) {
	r := New(nil)

	r.Register(AgentInfo{Name: "mail-agent", AgentType: "mail", Capabilities: []string{"email"}})

	info := r.Get("mail-agent")
	require.NotNil(t, info)
	assert.Equal(t, StatusActive, info.Status)
	assert.False(t, info.RegisteredAt.IsZero())
	assert.Equal(t, []string{"email"}, info.Capabilities)

	// Re-registering with the same name replaces the entry.
	r.Register(AgentInfo{Name: "mail-agent", AgentType: "mail", Capabilities: []string{"email", "drafts"}})
	info = r.Get("mail-agent")
	require.NotNil(t, info)
	assert.Equal(t, []string{"email", "drafts"}, info.Capabilities)
	assert.Len(t, r.List(""), 1)
}

func TestAgentRegistry_Get_ReturnsCopy(t *testing.T) {
	r := New(nil)
	r.Register(AgentInfo{Name: "db-agent", AgentType: "db"})

	info := r.Get("db-agent")
	require.NotNil(t, info)
	info.Status = StatusError

	// Mutating the returned copy must not touch the registry's entry.
	assert.Equal(t, StatusActive, r.Get("db-agent").Status)
}

func TestAgentRegistry_Get_Unknown(t *testing.T) {
	r := New(nil)
	assert.Nil(t, r.Get("ghost"))
}

func TestAgentRegistry_List_StatusFilter(t *testing.T) {
	r := New(nil)
	r.Register(AgentInfo{Name: "a", AgentType: "mail"})
	r.Register(AgentInfo{Name: "b", AgentType: "db"})
	r.Register(AgentInfo{Name: "c", AgentType: "ghl"})
	r.UpdateStatus("b", StatusInactive)

	assert.Len(t, r.List(""), 3)
	assert.Len(t, r.List(StatusActive), 2)

	inactive := r.List(StatusInactive)
	require.Len(t, inactive, 1)
	assert.Equal(t, "b", inactive[0].Name)
}

func TestAgentRegistry_Unregister(t *testing.T) {
	r := New(nil)
	r.Register(AgentInfo{Name: "a", AgentType: "mail"})

	r.Unregister("a")
	assert.Nil(t, r.Get("a"))

	// Unregistering an absent agent is a no-op.
	r.Unregister("a")
	r.Unregister("never-registered")
}

func TestAgentRegistry_UpdateStatus_RefreshesLastSeen(t *testing.T) {
	r := New(nil)
	r.Register(AgentInfo{Name: "a", AgentType: "mail", LastSeen: time.Now().Add(-time.Hour)})

	before := r.Get("a").LastSeen
	r.UpdateStatus("a", StatusError)
	after := r.Get("a")

	assert.Equal(t, StatusError, after.Status)
	assert.True(t, after.LastSeen.After(before))
}

func TestAgentRegistry_UpdateStatus_UnknownIsNoop(t *testing.T) {
	r := New(nil)
	// Must not panic or create an entry.
	r.UpdateStatus("ghost", StatusError)
	assert.Nil(t, r.Get("ghost"))
}

func TestAgentRegistry_Heartbeat(t *testing.T) {
	r := New(nil)
	r.Register(AgentInfo{Name: "a", AgentType: "mail", LastSeen: time.Now().Add(-time.Hour)})

	before := r.Get("a").LastSeen
	r.Heartbeat("a")
	assert.True(t, r.Get("a").LastSeen.After(before))

	// Heartbeat for an unknown agent is a silent no-op.
	r.Heartbeat("ghost")
	assert.Nil(t, r.Get("ghost"))
}
