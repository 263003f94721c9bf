// Package enricher synthesizes a research thesis from a query and its
// clarification answers.
package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ayash-Bera/intake/internal/clarifier"
	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueryTooShort   = errors.New("query too short or empty for thesis generation")
	ErrMalformedThesis = errors.New("thesis is not a JSON object")
)

const systemPrompt = `You are a pharma intelligence analyst writing a search thesis for executives.

Using the original query and the clarifying answers, produce a thesis and the filters a drug-asset search should apply.
Canonicalize user-supplied terms: fix misspellings, map brand names to generic names, normalize stage and modality terms. Drop unknown or non-pharmaceutical terms and say so in the assumptions.
If the query has no pharmaceutical context, return the thesis with executive_summary "Not enough information provided for pharmaceutical analysis." and empty search parameters.

Respond with one JSON object, no markdown:
{
  "thesis": {
    "executive_summary": "...",
    "key_assumptions": ["..."],
    "refined_scope": "...",
    "search_parameters": {
      "primary_targets": [], "indication_focus": [], "development_stages": [],
      "modality_filters": [], "geographic_scope": [], "exclusion_criteria": []
    },
    "strategic_rationale": "...",
    "market_intelligence": "..."
  },
  "filters": {
    "unit": "assets",
    "target": [], "indication": [], "modality": [], "geography": [], "stage": [],
    "time_window": {"type": "last_n_years", "years": 5}
  }
}`

// insufficientThesis is returned without calling the model for out-of-scope queries.
var insufficientThesis = map[string]interface{}{
	"thesis": map[string]interface{}{
		"executive_summary": "Not enough information provided to generate a meaningful pharmaceutical analysis.",
		"key_assumptions": []string{
			"The query does not contain pharmaceutical or biotech context.",
			"A usable query names drug targets, indications, modalities or therapeutic areas.",
		},
		"refined_scope": "Unable to define scope without pharmaceutical context.",
		"search_parameters": map[string]interface{}{
			"primary_targets":    []string{},
			"indication_focus":   []string{},
			"development_stages": []string{},
			"modality_filters":   []string{},
			"geographic_scope":   []string{},
			"exclusion_criteria": []string{},
		},
		"strategic_rationale": "Please provide a query about drug assets, therapeutic areas or biotech research.",
		"market_intelligence": "Re-enter the query with specific pharmaceutical terms.",
	},
}

// Enricher implements clarify.ThesisGenerator.
type Enricher struct {
	llm    llm.Completer
	model  string
	policy clarifier.Policy
	logger *logrus.Logger
}

func New(completer llm.Completer, model string, policy clarifier.Policy, logger *logrus.Logger) *Enricher {
	return &Enricher{llm: completer, model: model, policy: policy, logger: logger}
}

func (e *Enricher) GenerateThesis(ctx context.Context, in clarify.ThesisInput) (string, error) {
	query := strings.TrimSpace(in.OriginalQuery)
	if utf8.RuneCountInString(query) < 3 {
		return "", ErrQueryTooShort
	}

	if rejected := e.policy.OutOfScope(query); len(rejected) > 0 {
		e.logger.WithField("keywords", rejected).Warn("Out-of-scope query in thesis generation")
		data, err := json.Marshal(insufficientThesis)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if !e.llm.Configured() {
		return "", llm.ErrNotConfigured
	}

	user, err := buildUserPrompt(in)
	if err != nil {
		return "", err
	}

	start := time.Now()
	doc, err := e.call(ctx, user)
	if err != nil {
		return "", err
	}
	if degenerate(doc) {
		e.logger.Warn("Thesis generator returned an empty object, calling once more")
		if doc, err = e.call(ctx, user); err != nil {
			return "", err
		}
		if degenerate(doc) {
			return "", fmt.Errorf("%w: empty document", ErrMalformedThesis)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"answers":      len(in.Answers),
		"has_feedback": in.Feedback != "",
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Thesis generated")
	return doc, nil
}

func (e *Enricher) call(ctx context.Context, user string) (string, error) {
	text, err := e.llm.Complete(ctx, llm.Request{
		Model:      e.model,
		System:     systemPrompt,
		User:       user,
		JSONObject: true,
		MaxTokens:  1500,
	})
	if err != nil && !errors.Is(err, llm.ErrEmptyResponse) {
		return "", fmt.Errorf("thesis generation failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	obj, ok := llm.ExtractJSONObject(text)
	if !ok {
		return "", fmt.Errorf("%w: %.120s", ErrMalformedThesis, text)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedThesis, err)
	}
	return obj, nil
}

func degenerate(doc string) bool {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(doc), &obj) == nil && len(obj) == 0
}

func buildUserPrompt(in clarify.ThesisInput) (string, error) {
	answers := in.Answers
	if answers == nil {
		answers = map[string]interface{}{}
	}
	data, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal answers: %w", err)
	}

	email := in.Email
	if email == "" {
		email = "not provided"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ORIGINAL QUERY: %s\n\n", strings.TrimSpace(in.OriginalQuery))
	fmt.Fprintf(&b, "USER ANSWERS: %s\n\n", data)
	fmt.Fprintf(&b, "USER EMAIL: %s\n\n", email)
	if fb := strings.TrimSpace(in.Feedback); fb != "" {
		fmt.Fprintf(&b, "USER FEEDBACK ON PREVIOUS THESIS: %s\n\nIncorporate this feedback and make the requested changes.\n\n", fb)
	}
	b.WriteString("Generate a thesis based on this information.")
	return b.String(), nil
}
