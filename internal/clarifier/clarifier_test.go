package clarifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	replies    []string
	requests   []llm.Request
	configured bool
	err        error
}

func (s *scriptedLLM) Configured() bool { return s.configured }

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func reply(queryType string, n int) string {
	qs := make([]map[string]interface{}, n)
	for i := range qs {
		qs[i] = map[string]interface{}{
			"key":              fmt.Sprintf("k%d", i+1),
			"label":            fmt.Sprintf("Should we limit to option %d?", i+1),
			"type":             "single_select",
			"reason":           "narrows",
			"balancing_intent": "narrow",
			"options":          []map[string]interface{}{{"value": "yes", "label": "Yes", "is_default": false}, {"value": "no", "label": "No", "is_default": true}},
		}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"scope_analysis": map[string]string{"query_type": queryType, "reasoning": "ok"},
		"questions":      qs,
	})
	return string(data)
}

func newClarifier(l *scriptedLLM, policy Policy) *Clarifier {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(l, "test-model", policy, logger)
}

func TestPolicy_KeywordsMatchWholeWords(t *testing.T) {
	p := DefaultPolicy()
	assert.Empty(t, p.OutOfScope("Is this KRAS G12C assessment relevant?"))
	assert.Equal(t, []string{"hi"}, p.OutOfScope("Hi there"))
	assert.Equal(t, []string{"all drugs"}, p.OutOfScope("show me ALL drugs"))
	assert.Empty(t, p.OutOfScope("drugs for all"))

	assert.True(t, p.IsBroad("oncology"))
	assert.True(t, p.IsBroad("targeted therapy in lung"))
	assert.False(t, p.IsBroad("KRAS G12C inhibitors in NSCLC"))
}

func TestPolicy_MinQuestions(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 8, p.MinQuestions(true, 0))
	assert.Equal(t, 5, p.MinQuestions(true, 5))
	assert.Equal(t, 3, p.MinQuestions(true, 3))
	assert.Equal(t, 10, p.MinQuestions(true, 20))
	assert.Equal(t, 4, p.MinQuestions(false, 0))
	assert.Equal(t, 5, p.MinQuestions(false, 9))
	assert.Equal(t, 2, p.MinQuestions(false, 2))
}

func TestGenerateQuestions_RejectsShortQuery(t *testing.T) {
	l := &scriptedLLM{configured: true}
	_, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), " ab ", clarify.GenerateOptions{})
	assert.ErrorIs(t, err, ErrQueryTooShort)
	assert.Empty(t, l.requests)
}

func TestGenerateQuestions_OutOfScopeSkipsModel(t *testing.T) {
	l := &scriptedLLM{configured: true}
	set, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "hello world", clarify.GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, set.Questions)
	assert.Equal(t, 0.05, set.Completeness)
	assert.NotEmpty(t, set.Notice)
	assert.Empty(t, l.requests)
}

func TestGenerateQuestions_FailsClosedWithoutCredentials(t *testing.T) {
	l := &scriptedLLM{configured: false}
	_, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "EGFR inhibitors", clarify.GenerateOptions{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestGenerateQuestions_SingleCall(t *testing.T) {
	l := &scriptedLLM{configured: true, replies: []string{reply("balanced", 3)}}
	set, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "EGFR inhibitors in NSCLC", clarify.GenerateOptions{
		MaxQuestions: 3,
		Domain:       "acme.bio",
		Payload:      map[string]interface{}{"email": "ana@acme.bio"},
	})
	require.NoError(t, err)
	require.Len(t, l.requests, 1)
	assert.Len(t, set.Questions, 3)
	assert.Equal(t, 0.8, set.Completeness)
	assert.Equal(t, "balanced", set.ScopeType)

	req := l.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.NotNil(t, req.JSONSchema)
	assert.Contains(t, req.User, "acme.bio")
	assert.Contains(t, req.User, "ana@acme.bio")
	assert.Contains(t, req.User, "exactly 3")
}

func TestGenerateQuestions_RetriesOnceThenPads(t *testing.T) {
	policy := DefaultPolicy()
	policy.FallbackQuestions = []string{"Limit to phase 3 assets?", "Exclude biosimilars?", "Only first-in-class?"}
	l := &scriptedLLM{configured: true, replies: []string{reply("too_broad", 1), reply("too_broad", 3)}}

	set, err := newClarifier(l, policy).GenerateQuestions(context.Background(), "oncology", clarify.GenerateOptions{MaxQuestions: 5})
	require.NoError(t, err)
	require.Len(t, l.requests, 2)
	assert.Contains(t, l.requests[1].System, "returned 1 questions")

	require.Len(t, set.Questions, 5)
	assert.Equal(t, "fallback_1", set.Questions[3].Key)
	assert.Equal(t, "Exclude biosimilars?", set.Questions[4].Label)
	assert.Equal(t, 0.3, set.Completeness)
}

func TestGenerateQuestions_NoFallbackKeepsShortList(t *testing.T) {
	l := &scriptedLLM{configured: true, replies: []string{reply("too_specific", 0)}}
	set, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "sotorasib", clarify.GenerateOptions{})
	require.NoError(t, err)
	assert.Len(t, l.requests, 2)
	assert.Empty(t, set.Questions)
	assert.Equal(t, 0.1, set.Completeness)
}

func TestGenerateQuestions_ToleratesFencedJSON(t *testing.T) {
	fenced := "```json\n" + reply("balanced", 4) + "\n```"
	l := &scriptedLLM{configured: true, replies: []string{fenced}}
	set, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "PD-1 inhibitors in melanoma", clarify.GenerateOptions{})
	require.NoError(t, err)
	assert.Len(t, set.Questions, 4)
}

func TestGenerateQuestions_InvalidJSON(t *testing.T) {
	l := &scriptedLLM{configured: true, replies: []string{"I cannot help with that"}}
	_, err := newClarifier(l, DefaultPolicy()).GenerateQuestions(context.Background(), "PD-1 inhibitors", clarify.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid JSON"))
}

func TestRawCompleteness(t *testing.T) {
	assert.Equal(t, 0.9, rawCompleteness(scopeAnalysis{QueryType: "balanced"}, 0))
	assert.Equal(t, 0.1, rawCompleteness(scopeAnalysis{QueryType: "balanced", Reasoning: "Insufficient detail"}, 0))
	assert.Equal(t, 0.1, rawCompleteness(scopeAnalysis{QueryType: "too_broad"}, 0))
	assert.Equal(t, 0.8, rawCompleteness(scopeAnalysis{QueryType: "balanced"}, 2))
	assert.Equal(t, 0.3, rawCompleteness(scopeAnalysis{QueryType: "too_specific"}, 2))
}
