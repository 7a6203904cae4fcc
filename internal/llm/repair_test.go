// ABOUTME: Tests for structured-output parsing and the JSON repair chain.
// ABOUTME: Each repair strategy is exercised with realistic model output.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, StripCodeFences("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, StripCodeFences("```\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": 1}`, StripCodeFences(`{"a": 1}`))
	assert.Equal(t, "", StripCodeFences("```json\n```"))
}

func TestParseStructured_ValidJSON(t *testing.T) {
	got, err := ParseStructured(`{"intent": "billing", "confidence": 0.92}`)
	require.NoError(t, err)
	assert.Equal(t, "billing", got["intent"])
	assert.Equal(t, 0.92, got["confidence"])
}

func TestParseStructured_FencedJSON(t *testing.T) {
	got, err := ParseStructured("```json\n{\"intent\": \"support\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "support", got["intent"])
}

func TestRepairJSON_TruncatedAfterValue(t *testing.T) {
	got, err := RepairJSON(`{"intent": "billing", "confidence": 0.9, "reaso`)
	require.NoError(t, err)
	assert.Equal(t, "billing", got["intent"])
	assert.Equal(t, 0.9, got["confidence"])
	assert.NotContains(t, got, "reaso")
}

func TestRepairJSON_UnterminatedKey(t *testing.T) {
	got, err := RepairJSON(`{"inten`)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepairJSON_CutsToLastCompletePair(t *testing.T) {
	got, err := RepairJSON(`{"intent": "billing", "urgent": tru`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"intent": "billing"}, got)
}

func TestRepairJSON_EmbeddedInProse(t *testing.T) {
	got, err := RepairJSON(`Here is the classification: {"intent": "sales"} Hope that helps!`)
	require.NoError(t, err)
	assert.Equal(t, "sales", got["intent"])
}

func TestRepairJSON_SingleQuotes(t *testing.T) {
	got, err := RepairJSON(`{'intent': 'vendor'}`)
	require.NoError(t, err)
	assert.Equal(t, "vendor", got["intent"])
}

func TestRepairJSON_TrailingComma(t *testing.T) {
	got, err := RepairJSON(`{"intent": "lead", "tags": ["new",],}`)
	require.NoError(t, err)
	assert.Equal(t, "lead", got["intent"])
}

func TestRepairJSON_Unrepairable(t *testing.T) {
	_, err := RepairJSON(`no structured output at all`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrepairable")
}

func TestPromptTemplate_Format(t *testing.T) {
	tmpl := PromptTemplate{
		SystemPrompt:       "You are a router.",
		UserPromptTemplate: "From: {from}\nSubject: {subject}\n\n{body}",
	}

	system, user := tmpl.Format(map[string]any{
		"from":    "alice@example.com",
		"subject": "Invoice question",
		"body":    "When is payment due?",
	})

	assert.Equal(t, "You are a router.", system)
	assert.Equal(t, "From: alice@example.com\nSubject: Invoice question\n\nWhen is payment due?", user)
}
