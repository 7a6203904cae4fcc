// ABOUTME: Tests for the urgent-transfer transport contract.
// ABOUTME: Covers the log-only transport and result success checks.

package escalation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogTransport_TransferUrgent(t *testing.T) {
	transport := NewLogTransport()

	result, err := transport.TransferUrgent(context.Background(), TransferRequest{
		FromIdentifier: "alice@example.com",
		ToNumber:       "+1-305-555-0100",
		Subject:        "Outage affecting checkout",
		Urgency:        UrgencyImmediate,
		AgentName:      "email-agent",
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "log-only", result.MessageID)
}

func TestTransferResult_Succeeded(t *testing.T) {
	assert.True(t, (&TransferResult{Status: "success"}).Succeeded())
	assert.False(t, (&TransferResult{Status: "error"}).Succeeded())
}
