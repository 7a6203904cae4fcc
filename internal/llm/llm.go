// ABOUTME: Classification and text generation interfaces plus prompt templates.
// ABOUTME: Providers are external; this package defines the contract and errors.

package llm

import (
	"context"
	"fmt"
	"strings"
)

// PromptTemplate holds a named prompt with model parameters. The user
// prompt may contain {variable} placeholders filled in by Format.
type PromptTemplate struct {
	Name               string  `yaml:"name" json:"name"`
	SystemPrompt       string  `yaml:"system_prompt" json:"system_prompt"`
	UserPromptTemplate string  `yaml:"user_prompt_template" json:"user_prompt_template"`
	Model              string  `yaml:"model" json:"model"`
	Temperature        float64 `yaml:"temperature" json:"temperature"`
	MaxTokens          int     `yaml:"max_tokens" json:"max_tokens"`
}

// Format substitutes {key} placeholders in the user prompt template and
// returns the system prompt alongside the rendered user prompt.
func (p PromptTemplate) Format(variables map[string]any) (system, user string) {
	user = p.UserPromptTemplate
	for key, value := range variables {
		user = strings.ReplaceAll(user, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return p.SystemPrompt, user
}

// TokenUsage reports token counts for a single model call when the
// provider exposes them.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClassificationResult is the parsed structured output of a classify
// call plus optional token accounting.
type ClassificationResult struct {
	Fields map[string]any
	Usage  *TokenUsage
}

// Classifier maps a prompt plus variables to a structured result.
// Implementations must repair malformed structured output with
// RepairJSON before failing with a ClassificationError.
type Classifier interface {
	Classify(ctx context.Context, tmpl PromptTemplate, variables map[string]any) (*ClassificationResult, error)
}

// TextGenerator produces free-form text from a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions tunes a single generation call. Zero values fall back
// to provider defaults.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ClassificationError reports a failed classify call.
type ClassificationError struct {
	Template string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed (template %q): %v", e.Template, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// GenerationError reports a failed text generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
