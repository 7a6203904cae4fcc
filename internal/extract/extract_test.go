// ABOUTME: Tests for email and phone extraction across supported formats.
// ABOUTME: Cases mirror real inbound message phrasing.

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"simple", "Hi, my email is john.doe@example.com", "john.doe@example.com"},
		{"in sentence", "You can reach me at contact@company.org for any questions", "contact@company.org"},
		{"plus tag", "send it to billing+march@example.co", "billing+march@example.co"},
		{"none", "I need help with my order", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Email(tt.text))
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"parentheses", "Call me at (305) 555-1234", "+1-305-555-1234"},
		{"dashes", "My number is 305-555-1234", "+1-305-555-1234"},
		{"dots", "Reach me at 305.555.1234", "+1-305-555-1234"},
		{"bare ten digits", "My phone is 3055551234", "+1-305-555-1234"},
		{"plus one spaced", "Call +1 305 555 1234", "+1-305-555-1234"},
		{"plus one parentheses", "Call +1 (305) 555-1234", "+1-305-555-1234"},
		{"none", "I need help with my order", ""},
		{"too few digits", "my pin is 12345", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.text))
		})
	}
}

func TestContacts_Both(t *testing.T) {
	got := Contacts("Contact me at john@example.com or call (305) 555-1234")
	assert.Equal(t, "john@example.com", got.Email)
	assert.Equal(t, "+1-305-555-1234", got.Phone)
}

func TestContacts_Neither(t *testing.T) {
	got := Contacts("I need help with my order")
	assert.Empty(t, got.Email)
	assert.Empty(t, got.Phone)
}

func TestEmails_Multiple(t *testing.T) {
	got := Emails("cc a@example.com and b@example.com please")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)
}

func TestPhones_Deduplicates(t *testing.T) {
	got := Phones("text 305-555-9999 or call 305-555-9999, office is (212) 555-0000")
	assert.ElementsMatch(t, []string{"+1-305-555-9999", "+1-212-555-0000"}, got)
}
