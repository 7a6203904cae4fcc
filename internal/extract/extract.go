// ABOUTME: Regex extraction of emails and phone numbers from free text.
// ABOUTME: Runs ahead of classification so known identifiers skip the model.

// Package extract pulls contact identifiers out of message text. Phone
// numbers are normalized to the +1-XXX-XXX-XXXX form so they match the
// contact_identifier values stored with phone sessions.
package extract

import (
	"fmt"
	"regexp"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Ordered most specific first so formatted numbers win over the bare
// ten-digit fallback.
var phoneRes = []*regexp.Regexp{
	regexp.MustCompile(`\+1\s*\((\d{3})\)\s*(\d{3})-(\d{4})`),
	regexp.MustCompile(`\((\d{3})\)\s*(\d{3})-(\d{4})`),
	regexp.MustCompile(`(\d{3})-(\d{3})-(\d{4})`),
	regexp.MustCompile(`(\d{3})\.(\d{3})\.(\d{4})`),
	regexp.MustCompile(`\+1\s*(\d{3})\s*(\d{3})\s*(\d{4})`),
	regexp.MustCompile(`\b(\d{10})\b`),
}

// ContactInfo holds whatever identifiers were found. Empty fields mean
// nothing matched.
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Email returns the first email address in text, or "".
func Email(text string) string {
	return emailRe.FindString(text)
}

// Phone returns the first phone number in text normalized to
// +1-XXX-XXX-XXXX, or "".
func Phone(text string) string {
	for _, re := range phoneRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if n := normalize(m[1:]); n != "" {
			return n
		}
	}
	return ""
}

// Contacts returns both identifiers found in text.
func Contacts(text string) ContactInfo {
	return ContactInfo{
		Email: Email(text),
		Phone: Phone(text),
	}
}

// Emails returns every email address in text, in order of appearance.
func Emails(text string) []string {
	return emailRe.FindAllString(text, -1)
}

// Phones returns every distinct normalized phone number in text.
func Phones(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range phoneRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			n := normalize(m[1:])
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func normalize(groups []string) string {
	var digits string
	for _, g := range groups {
		digits += g
	}
	if len(digits) != 10 {
		return ""
	}
	return fmt.Sprintf("+1-%s-%s-%s", digits[0:3], digits[3:6], digits[6:10])
}
