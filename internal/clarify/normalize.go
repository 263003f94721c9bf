package clarify

import (
	"fmt"
	"strings"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
)

var typeAliases = map[string]models.QuestionType{
	"text":          models.TypeText,
	"short_text":    models.TypeText,
	"string":        models.TypeText,
	"textarea":      models.TypeTextarea,
	"long_text":     models.TypeTextarea,
	"paragraph":     models.TypeTextarea,
	"single_select": models.TypeSingleSelect,
	"select":        models.TypeSingleSelect,
	"single":        models.TypeSingleSelect,
	"radio":         models.TypeSingleSelect,
	"choice":        models.TypeSingleSelect,
	"yes_no":        models.TypeSingleSelect,
	"boolean":       models.TypeSingleSelect,
	"multi_select":  models.TypeMultiSelect,
	"multiselect":   models.TypeMultiSelect,
	"multi":         models.TypeMultiSelect,
	"checkbox":      models.TypeMultiSelect,
	"number":        models.TypeNumber,
	"integer":       models.TypeNumber,
	"date":          models.TypeDate,
	"file":          models.TypeFile,
}

// NormalizeQuestions turns generator drafts into persistable questions. It is
// deterministic and never drops an item.
func NormalizeQuestions(sessionID uuid.UUID, originalQuery string, drafts []QuestionDraft) []models.ClarificationQuestion {
	out := make([]models.ClarificationQuestion, 0, len(drafts))
	usedKeys := make(map[string]bool, len(drafts))

	for i, d := range drafts {
		q := models.ClarificationQuestion{
			SessionID:   sessionID,
			OrderIndex:  i,
			Key:         uniqueKey(questionKey(d, i), i, usedKeys),
			Label:       questionLabel(d, i),
			Type:        questionType(d),
			Required:    d.Required == nil || *d.Required,
			Placeholder: strings.TrimSpace(d.Placeholder),
			Help:        strings.TrimSpace(d.Help),
		}
		if q.Type.IsChoice() {
			q.Options = normalizeOptions(d.Options)
		}
		q.Reason = strings.TrimSpace(d.Reason)
		if q.Reason == "" {
			q.Reason = buildAutoReason(originalQuery, q.Key)
		}
		out = append(out, q)
	}
	return out
}

func questionKey(d QuestionDraft, i int) string {
	if k := strings.TrimSpace(d.Key); k != "" {
		return k
	}
	return fmt.Sprintf("q_%d", i+1)
}

func uniqueKey(key string, i int, used map[string]bool) string {
	candidate := key
	for n := i + 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", key, n)
	}
	used[candidate] = true
	return candidate
}

func questionLabel(d QuestionDraft, i int) string {
	for _, candidate := range []string{d.Label, d.Text, d.Question} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return fmt.Sprintf("Question %d", i+1)
}

func questionType(d QuestionDraft) models.QuestionType {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(d.Type))]; ok {
		return t
	}
	if len(d.Options) > 0 {
		return models.TypeSingleSelect
	}
	return models.TypeText
}

func normalizeOptions(drafts []OptionDraft) []models.Option {
	var opts []models.Option
	for _, d := range drafts {
		value := strings.TrimSpace(d.Value)
		label := strings.TrimSpace(d.Label)
		if value == "" && label == "" {
			continue
		}
		if value == "" {
			value = label
		}
		if label == "" {
			label = value
		}
		opts = append(opts, models.Option{Value: value, Label: label, IsDefault: d.IsDefault})
	}
	if len(opts) == 0 {
		return yesNoOptions()
	}

	hasDefault := false
	for _, o := range opts {
		if o.IsDefault {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		opts[0].IsDefault = true
	}
	return opts
}

func yesNoOptions() []models.Option {
	return []models.Option{
		{Value: "yes", Label: "Yes"},
		{Value: "no", Label: "No", IsDefault: true},
	}
}

func buildAutoReason(originalQuery, key string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "stage"):
		return "Stage alignment changes inclusion/exclusion for pivotal evidence."
	case strings.Contains(k, "geo"):
		return "Geography affects regulatory pathways and accessible cohorts."
	case strings.Contains(k, "modal"):
		return "Modality choices alter mechanism relevance and comparable benchmarks."
	case strings.Contains(k, "scope"):
		return "Clarifies breadth vs depth so downstream retrieval stays on target."
	case strings.Contains(k, "unit"):
		return "Unit selection shifts which entities are retrieved (assets vs trials etc.)."
	}
	return fmt.Sprintf("Needed to balance breadth vs specificity for %q.", originalQuery)
}
