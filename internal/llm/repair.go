// ABOUTME: Best-effort repair of malformed or truncated model JSON output.
// ABOUTME: Fixed fallback chain with a hard failure when every step fails.

package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	embeddedObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe  = regexp.MustCompile(`,(\s*[}\]])`)
)

// StripCodeFences removes a surrounding markdown code fence, if any.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseStructured parses model output as a JSON object, stripping code
// fences first and falling back to RepairJSON when direct parsing fails.
func ParseStructured(raw string) (map[string]any, error) {
	text := StripCodeFences(raw)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}
	return RepairJSON(text)
}

// RepairJSON attempts to recover a JSON object from malformed model
// output. The fallback chain is fixed:
//
//  1. Truncation repair: cut back to the last complete key-value pair,
//     drop an unterminated trailing string, then balance braces.
//  2. Extract an embedded {...} object from surrounding prose.
//  3. Normalize single quotes to double quotes.
//  4. Strip trailing commas before closing brackets.
//
// Anything still unparseable after the full chain is a hard failure; no
// further guessing is done.
func RepairJSON(text string) (map[string]any, error) {
	logger := slog.Default().With("component", "llm")
	repaired := strings.TrimSpace(text)

	if strings.HasPrefix(repaired, "{") && !strings.HasSuffix(repaired, "}") {
		logger.Debug("repairing truncated JSON", "length", len(repaired))
		repaired = repairTruncation(repaired)
	}

	if match := embeddedObjectRe.FindString(repaired); match != "" {
		repaired = match
	}

	repaired = strings.ReplaceAll(repaired, "'", `"`)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(repaired), &parsed); err == nil {
		return parsed, nil
	}

	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, fmt.Errorf("unrepairable JSON output: %w", err)
	}
	return parsed, nil
}

// repairTruncation cuts a truncated object back to its last complete
// key-value pair and balances the braces.
func repairTruncation(s string) string {
	lastComma := -1
	inString := false
	for i, ch := range s {
		switch {
		case ch == '"' && (i == 0 || s[i-1] != '\\'):
			inString = !inString
		case ch == ',' && !inString:
			lastComma = i
		}
	}

	if lastComma > 0 {
		s = strings.TrimRight(s[:lastComma], " \n\t")
	} else if strings.Count(s, `"`)%2 != 0 {
		// No complete pair to fall back to. Drop an unterminated key if
		// the last quote opens one.
		lastQuote := strings.LastIndex(s, `"`)
		if lastQuote > 0 {
			prev := lastQuote - 1
			for prev >= 0 && (s[prev] == ' ' || s[prev] == '\n' || s[prev] == '\t') {
				prev--
			}
			if prev >= 0 && (s[prev] == ',' || s[prev] == '{') {
				s = strings.TrimRight(s[:lastQuote], " \n\t")
				s = strings.TrimRight(strings.TrimSuffix(s, ","), " \n\t")
			}
		}
	}

	if missing := strings.Count(s, "{") - strings.Count(s, "}"); missing > 0 {
		s += strings.Repeat("}", missing)
	}
	return s
}
