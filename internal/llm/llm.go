// Package llm is a provider-neutral chat completion boundary used by the
// clarifier and enricher.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("llm provider is not configured")
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Schema is a named JSON schema the model output must follow.
type Schema struct {
	Name   string
	Schema map[string]interface{}
	Strict bool
}

type Request struct {
	// Model overrides the client default when set.
	Model       string
	System      string
	User        string
	JSONSchema  *Schema
	JSONObject  bool
	MaxTokens   int
	Temperature *float64
}

// Completer returns the raw text of one completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Configured() bool
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, e.Body)
}

func Float(f float64) *float64 { return &f }
