// Package clarifier generates clarification questions for a research query
// through an LLM.
package clarifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/sirupsen/logrus"
)

var ErrQueryTooShort = errors.New("query too short or empty")

const systemPrompt = `You are a senior pharmaceutical intelligence analyst scoping a drug-asset search.

Assess whether the query is too broad, too specific or balanced, then ask follow-up questions that narrow it.

Question rules:
- Every question must be answerable with YES or NO. Use type "single_select" with options "yes" and "no".
- Name concrete entities: drugs with brand names, sponsors, molecular targets and regulatory designations.
- Never ask open-ended questions or questions that need a list.
- If the query is not pharmaceutical, return no questions and say so in the reasoning.

Output only JSON with "scope_analysis" {query_type, reasoning} and a "questions" array.`

var outputSchema = &llm.Schema{
	Name:   "ClarifierOutput",
	Strict: true,
	Schema: map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"scope_analysis", "questions"},
		"properties": map[string]interface{}{
			"scope_analysis": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"query_type", "reasoning"},
				"properties": map[string]interface{}{
					"query_type": map[string]interface{}{"type": "string", "enum": []string{"too_broad", "too_specific", "balanced"}},
					"reasoning":  map[string]interface{}{"type": "string"},
				},
			},
			"questions": map[string]interface{}{
				"type":     "array",
				"maxItems": 10,
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"key", "label", "type", "reason", "balancing_intent", "options"},
					"properties": map[string]interface{}{
						"key":              map[string]interface{}{"type": "string"},
						"label":            map[string]interface{}{"type": "string"},
						"type":             map[string]interface{}{"type": "string"},
						"reason":           map[string]interface{}{"type": "string"},
						"balancing_intent": map[string]interface{}{"type": "string", "enum": []string{"narrow", "broaden", "clarify"}},
						"options": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type":                 "object",
								"additionalProperties": false,
								"required":             []string{"value", "label", "is_default"},
								"properties": map[string]interface{}{
									"value":      map[string]interface{}{"type": "string"},
									"label":      map[string]interface{}{"type": "string"},
									"is_default": map[string]interface{}{"type": "boolean"},
								},
							},
						},
					},
				},
			},
		},
	},
}

type scopeAnalysis struct {
	QueryType string `json:"query_type"`
	Reasoning string `json:"reasoning"`
}

type output struct {
	ScopeAnalysis scopeAnalysis           `json:"scope_analysis"`
	Questions     []clarify.QuestionDraft `json:"questions"`
}

// Clarifier implements clarify.QuestionGenerator.
type Clarifier struct {
	llm    llm.Completer
	model  string
	policy Policy
	logger *logrus.Logger
}

func New(completer llm.Completer, model string, policy Policy, logger *logrus.Logger) *Clarifier {
	return &Clarifier{
		llm:    completer,
		model:  model,
		policy: policy.withDefaults(),
		logger: logger,
	}
}

func (c *Clarifier) GenerateQuestions(ctx context.Context, originalQuery string, opts clarify.GenerateOptions) (*clarify.QuestionSet, error) {
	query := strings.TrimSpace(originalQuery)
	if utf8.RuneCountInString(query) < 3 {
		return nil, ErrQueryTooShort
	}

	if rejected := c.policy.OutOfScope(query); len(rejected) > 0 {
		c.logger.WithFields(logrus.Fields{
			"query":    query,
			"keywords": rejected,
		}).Warn("Out-of-scope query")
		return &clarify.QuestionSet{
			Completeness: c.policy.OutOfScopeCompleteness,
			ScopeType:    "out_of_scope",
			Notice:       c.policy.OutOfScopeNotice,
		}, nil
	}

	if !c.llm.Configured() {
		return nil, llm.ErrNotConfigured
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	broad := c.policy.IsBroad(query)
	minQuestions := c.policy.MinQuestions(broad, opts.MaxQuestions)
	user := buildUserPrompt(query, opts, minQuestions)

	start := time.Now()
	out, err := c.call(ctx, systemPrompt, user)
	if err != nil {
		return nil, err
	}

	if len(out.Questions) < minQuestions {
		c.logger.WithFields(logrus.Fields{
			"got":  len(out.Questions),
			"want": minQuestions,
		}).Info("Too few questions, retrying once")

		retrySystem := systemPrompt + fmt.Sprintf(
			"\n\nThe previous attempt returned %d questions. You must return exactly %d yes/no questions.",
			len(out.Questions), minQuestions)
		if out, err = c.call(ctx, retrySystem, user); err != nil {
			return nil, err
		}
		out.Questions = c.pad(out.Questions, minQuestions)
	}

	set := &clarify.QuestionSet{
		Completeness: rawCompleteness(out.ScopeAnalysis, len(out.Questions)),
		Questions:    out.Questions,
		ScopeType:    out.ScopeAnalysis.QueryType,
	}

	c.logger.WithFields(logrus.Fields{
		"questions":    len(set.Questions),
		"scope_type":   set.ScopeType,
		"broad":        broad,
		"completeness": set.Completeness,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Clarifier finished")
	return set, nil
}

func (c *Clarifier) call(ctx context.Context, system, user string) (*output, error) {
	text, err := c.llm.Complete(ctx, llm.Request{
		Model:      c.model,
		System:     system,
		User:       user,
		JSONSchema: outputSchema,
		MaxTokens:  1200,
	})
	if err != nil {
		return nil, fmt.Errorf("clarifier failed: %w", err)
	}

	var out output
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		obj, ok := llm.ExtractJSONObject(text)
		if !ok {
			return nil, fmt.Errorf("clarifier failed: invalid JSON from model")
		}
		if err := json.Unmarshal([]byte(obj), &out); err != nil {
			return nil, fmt.Errorf("clarifier failed: invalid JSON from model: %w", err)
		}
	}
	return &out, nil
}

// pad tops up from the configured fallback questions; with none configured
// the short list is returned as is.
func (c *Clarifier) pad(questions []clarify.QuestionDraft, want int) []clarify.QuestionDraft {
	required := true
	for i := 0; len(questions) < want && i < len(c.policy.FallbackQuestions); i++ {
		questions = append(questions, clarify.QuestionDraft{
			Key:      fmt.Sprintf("fallback_%d", i+1),
			Label:    c.policy.FallbackQuestions[i],
			Type:     "single_select",
			Options:  []clarify.OptionDraft{{Value: "yes", Label: "Yes"}, {Value: "no", Label: "No"}},
			Required: &required,
			Reason:   "Narrows the search to the most relevant assets.",
		})
	}
	return questions
}

func rawCompleteness(scope scopeAnalysis, count int) float64 {
	balanced := scope.QueryType == "balanced"
	if count > 0 {
		if balanced {
			return 0.8
		}
		return 0.3
	}
	reasoning := strings.ToLower(scope.Reasoning)
	for _, marker := range []string{"insufficient", "resubmit", "not pharmaceutical"} {
		if strings.Contains(reasoning, marker) {
			return 0.1
		}
	}
	if balanced {
		return 0.9
	}
	return 0.1
}

func buildUserPrompt(query string, opts clarify.GenerateOptions, minQuestions int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUERY: %q\n", query)
	if opts.Domain != "" {
		fmt.Fprintf(&b, "DOMAIN: %s\n", opts.Domain)
	}
	if len(opts.Payload) > 0 {
		if data, err := json.MarshalIndent(opts.Payload, "", "  "); err == nil {
			fmt.Fprintf(&b, "\nCONTEXT (raw):\n%s\n", data)
		}
	}
	fmt.Fprintf(&b, "\nGenerate exactly %d yes/no questions. Each must pass the yes/no test.\n", minQuestions)
	return b.String()
}
