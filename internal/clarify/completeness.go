package clarify

import (
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
)

// Completeness is answered required / total required, 1.0 when nothing is
// required. An answer row counts even when its value is null.
func Completeness(questions []models.ClarificationQuestion, answers []models.ClarificationAnswer) float64 {
	required := make(map[uuid.UUID]bool)
	for _, q := range questions {
		if q.Required {
			required[q.ID] = false
		}
	}
	if len(required) == 0 {
		return 1.0
	}

	answered := 0
	for _, a := range answers {
		seen, ok := required[a.QuestionID]
		if ok && !seen {
			required[a.QuestionID] = true
			answered++
		}
	}

	c := float64(answered) / float64(len(required))
	if c > 1 {
		return 1
	}
	return c
}
