// Package fakes holds deterministic generators used by tests and by the
// "fake" LLM provider.
package fakes

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/Ayash-Bera/intake/internal/clarify"
)

// Questions returns no questions for "orders last 30 days" style queries and
// a fixed set of three otherwise.
type Questions struct {
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

func (f *Questions) GenerateQuestions(ctx context.Context, originalQuery string, opts clarify.GenerateOptions) (*clarify.QuestionSet, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.Contains(strings.ToLower(originalQuery), "orders last 30 days") {
		return &clarify.QuestionSet{Completeness: 0.95, ScopeType: "balanced"}, nil
	}

	required, optional := true, false
	return &clarify.QuestionSet{
		Completeness: 0.4,
		ScopeType:    "too_broad",
		Questions: []clarify.QuestionDraft{
			{
				Key:      "audience",
				Label:    "Who is the primary audience?",
				Type:     "single_select",
				Options:  []clarify.OptionDraft{{Value: "devs", Label: "Developers"}, {Value: "marketers", Label: "Marketers"}},
				Required: &required,
			},
			{
				Key:      "cta",
				Label:    "What is the primary call to action?",
				Type:     "single_select",
				Options:  []clarify.OptionDraft{{Value: "signup", Label: "Sign up"}, {Value: "demo", Label: "Book a demo"}},
				Required: &required,
			},
			{
				Key:         "brand",
				Label:       "Any brand guidelines?",
				Type:        "textarea",
				Placeholder: "Colors, tone, fonts",
				Required:    &optional,
			},
		},
	}, nil
}

func (f *Questions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Thesis returns a fixed asset thesis and echoes feedback when present.
type Thesis struct {
	// Raw, when set, replaces the generated document verbatim.
	Raw string
	Err error

	mu     sync.Mutex
	calls  int
	inputs []clarify.ThesisInput
}

func (f *Thesis) GenerateThesis(ctx context.Context, in clarify.ThesisInput) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if f.Err != nil {
		return "", f.Err
	}
	if f.Raw != "" {
		return f.Raw, nil
	}

	doc := map[string]interface{}{
		"unit": "assets",
		"filters": map[string]interface{}{
			"target":           []string{},
			"indication":       []string{},
			"modality":         []string{},
			"geography":        []string{},
			"stage":            []string{},
			"sponsor_class":    nil,
			"trial_attributes": nil,
			"time_window": map[string]interface{}{
				"type":  "last_n_years",
				"years": 5,
				"from":  nil,
				"to":    nil,
			},
			"exclusions": nil,
		},
		"assumptions": []string{"mock"},
	}
	if in.Feedback != "" {
		doc["feedback"] = in.Feedback
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *Thesis) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastInput returns the most recent input, or the zero value.
func (f *Thesis) LastInput() clarify.ThesisInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return clarify.ThesisInput{}
	}
	return f.inputs[len(f.inputs)-1]
}
