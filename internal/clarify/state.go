package clarify

import "github.com/Ayash-Bera/intake/internal/models"

var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusGenerating: {models.StatusPresented, models.StatusReady},
	models.StatusPresented:  {models.StatusCollecting, models.StatusReady, models.StatusApproved, models.StatusComplete},
	models.StatusCollecting: {models.StatusCollecting, models.StatusReady, models.StatusApproved, models.StatusComplete},
	models.StatusReady:      {models.StatusCollecting, models.StatusReady, models.StatusApproved, models.StatusComplete},
	models.StatusApproved:   {models.StatusCollecting, models.StatusReady, models.StatusApproved, models.StatusComplete},
	models.StatusComplete:   {models.StatusComplete},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to models.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func statusAfterGeneration(questionCount int) models.SessionStatus {
	if questionCount == 0 {
		return models.StatusReady
	}
	return models.StatusPresented
}

func statusAfterAnswer(completeness float64) models.SessionStatus {
	if completeness >= 1.0 {
		return models.StatusReady
	}
	return models.StatusCollecting
}

func acceptsAnswers(s models.SessionStatus) bool {
	return s != models.StatusGenerating && s != models.StatusComplete
}

func canApprove(s models.SessionStatus) bool {
	return CanTransition(s, models.StatusApproved)
}

func canFinalize(s models.SessionStatus) bool {
	return CanTransition(s, models.StatusComplete)
}
