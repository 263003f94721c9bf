package clarify

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ayash-Bera/intake/internal/models"
)

// AnswerKind tags the shape of a stored answer value.
type AnswerKind string

const (
	KindNull    AnswerKind = "null"
	KindText    AnswerKind = "text"
	KindNumber  AnswerKind = "number"
	KindDate    AnswerKind = "date"
	KindChoice  AnswerKind = "choice"
	KindChoices AnswerKind = "choices"
	KindFile    AnswerKind = "file"
)

// AnswerValue is an answer validated against its question's type. Exactly
// the field matching Kind is meaningful.
type AnswerValue struct {
	Kind    AnswerKind
	Text    string
	Number  float64
	Date    string
	Choices []string
}

// ParseAnswer validates raw JSON against the question. A null (or absent)
// value is accepted for every type and still counts as answered.
func ParseAnswer(q *models.ClarificationQuestion, raw json.RawMessage) (AnswerValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return AnswerValue{Kind: KindNull}, nil
	}

	switch q.Type {
	case models.TypeText, models.TypeTextarea:
		s, err := decodeString(q, trimmed)
		if err != nil {
			return AnswerValue{}, err
		}
		return AnswerValue{Kind: KindText, Text: s}, nil

	case models.TypeNumber:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			var s string
			if json.Unmarshal(trimmed, &s) != nil {
				return AnswerValue{}, invalidf("question %q expects a number", q.Key)
			}
			if n, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				return AnswerValue{}, invalidf("question %q expects a number, got %q", q.Key, s)
			}
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return AnswerValue{}, invalidf("question %q expects a finite number", q.Key)
		}
		return AnswerValue{Kind: KindNumber, Number: n}, nil

	case models.TypeDate:
		s, err := decodeString(q, trimmed)
		if err != nil {
			return AnswerValue{}, err
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse("2006-01-02", s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return AnswerValue{}, invalidf("question %q expects a date (YYYY-MM-DD), got %q", q.Key, s)
			}
		}
		return AnswerValue{Kind: KindDate, Date: s}, nil

	case models.TypeSingleSelect:
		s, err := decodeString(q, trimmed)
		if err != nil {
			return AnswerValue{}, err
		}
		if !q.HasOption(s) {
			return AnswerValue{}, invalidf("%q is not an option of question %q", s, q.Key)
		}
		return AnswerValue{Kind: KindChoice, Choices: []string{s}}, nil

	case models.TypeMultiSelect:
		var values []string
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return AnswerValue{}, invalidf("question %q expects a list of options", q.Key)
		}
		for _, v := range values {
			if !q.HasOption(v) {
				return AnswerValue{}, invalidf("%q is not an option of question %q", v, q.Key)
			}
		}
		if values == nil {
			values = []string{}
		}
		return AnswerValue{Kind: KindChoices, Choices: values}, nil

	case models.TypeFile:
		s, err := decodeString(q, trimmed)
		if err != nil {
			return AnswerValue{}, err
		}
		if strings.TrimSpace(s) == "" {
			return AnswerValue{}, invalidf("question %q expects a file reference", q.Key)
		}
		return AnswerValue{Kind: KindFile, Text: s}, nil
	}

	return AnswerValue{}, invalidf("question %q has unsupported type %q", q.Key, q.Type)
}

func decodeString(q *models.ClarificationQuestion, raw []byte) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalidf("question %q of type %s expects a string", q.Key, q.Type)
	}
	return s, nil
}

// JSON is the canonical stored form of the value.
func (v AnswerValue) JSON() json.RawMessage {
	var data []byte
	switch v.Kind {
	case KindText, KindFile:
		data, _ = json.Marshal(v.Text)
	case KindNumber:
		data, _ = json.Marshal(v.Number)
	case KindDate:
		data, _ = json.Marshal(v.Date)
	case KindChoice:
		data, _ = json.Marshal(v.Choices[0])
	case KindChoices:
		data, _ = json.Marshal(v.Choices)
	default:
		data = []byte("null")
	}
	return data
}

// Interface returns the plain Go value handed to the thesis generator.
func (v AnswerValue) Interface() interface{} {
	switch v.Kind {
	case KindText, KindFile:
		return v.Text
	case KindNumber:
		return v.Number
	case KindDate:
		return v.Date
	case KindChoice:
		return v.Choices[0]
	case KindChoices:
		return v.Choices
	}
	return nil
}

// StoredAnswer rebuilds the value of a persisted answer row.
func StoredAnswer(a models.ClarificationAnswer) AnswerValue {
	v := AnswerValue{Kind: AnswerKind(a.Kind)}
	raw := []byte(a.Value)
	switch v.Kind {
	case KindText, KindFile:
		_ = json.Unmarshal(raw, &v.Text)
	case KindNumber:
		_ = json.Unmarshal(raw, &v.Number)
	case KindDate:
		_ = json.Unmarshal(raw, &v.Date)
	case KindChoice:
		var s string
		_ = json.Unmarshal(raw, &s)
		v.Choices = []string{s}
	case KindChoices:
		_ = json.Unmarshal(raw, &v.Choices)
	default:
		v.Kind = KindNull
	}
	return v
}
