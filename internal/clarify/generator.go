package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OptionDraft is a generator-supplied choice. Generators emit either bare
// strings or {value,label,is_default} objects; both decode here.
type OptionDraft struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	IsDefault bool   `json:"is_default"`
}

func (o *OptionDraft) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Value, o.Label = s, s
		return nil
	}
	var raw struct {
		Value     interface{} `json:"value"`
		Label     string      `json:"label"`
		IsDefault bool        `json:"is_default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Value != nil {
		o.Value = fmt.Sprint(raw.Value)
	}
	o.Label = raw.Label
	o.IsDefault = raw.IsDefault
	return nil
}

// QuestionDraft is raw generator output before normalization.
type QuestionDraft struct {
	Key         string        `json:"key"`
	Label       string        `json:"label"`
	Text        string        `json:"text"`
	Question    string        `json:"question"`
	Type        string        `json:"type"`
	Options     []OptionDraft `json:"options"`
	Required    *bool         `json:"required"`
	Placeholder string        `json:"placeholder"`
	Help        string        `json:"help"`
	Reason      string        `json:"reason"`
}

type QuestionSet struct {
	Completeness float64
	Questions    []QuestionDraft
	ScopeType    string
	// Notice is shown to the user when the query was judged out of scope.
	Notice string
}

type GenerateOptions struct {
	Domain       string
	Payload      map[string]interface{}
	Timeout      time.Duration
	MaxQuestions int
}

// QuestionGenerator must fail with an error when it cannot run at all; an
// empty QuestionSet is a valid "nothing to clarify" outcome.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, originalQuery string, opts GenerateOptions) (*QuestionSet, error)
}

type ThesisInput struct {
	OriginalQuery string
	Answers       map[string]interface{}
	Email         string
	Feedback      string
}

// ThesisGenerator returns a JSON document.
type ThesisGenerator interface {
	GenerateThesis(ctx context.Context, in ThesisInput) (string, error)
}
