package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// AnswerInput addresses a question by id or, failing that, by key.
type AnswerInput struct {
	QuestionID uuid.UUID
	Key        string
	Value      json.RawMessage
}

type AnswerResult struct {
	SessionID    uuid.UUID            `json:"session_id"`
	Status       models.SessionStatus `json:"status"`
	Completeness float64              `json:"completeness"`
	CanFinalize  bool                 `json:"can_finalize"`
}

// SubmitAnswers validates every answer before writing any, upserts them by
// (session, question) and recomputes completeness from the stored rows.
func (s *Service) SubmitAnswers(ctx context.Context, sessionID uuid.UUID, inputs []AnswerInput) (*AnswerResult, error) {
	if len(inputs) == 0 {
		return nil, invalidf("at least one answer is required")
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !acceptsAnswers(sess.Status) {
		return nil, conflictf("session %s is %s and does not accept answers", sessionID, sess.Status)
	}

	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[uuid.UUID]*models.ClarificationQuestion, len(questions))
	byKey := make(map[string]*models.ClarificationQuestion, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
		byKey[questions[i].Key] = &questions[i]
	}

	rows := make([]*models.ClarificationAnswer, 0, len(inputs))
	for _, in := range inputs {
		var q *models.ClarificationQuestion
		switch {
		case in.QuestionID != uuid.Nil:
			q = byID[in.QuestionID]
			if q == nil {
				return nil, invalidf("question %s does not belong to session %s", in.QuestionID, sessionID)
			}
		case strings.TrimSpace(in.Key) != "":
			q = byKey[strings.TrimSpace(in.Key)]
			if q == nil {
				return nil, invalidf("session %s has no question with key %q", sessionID, in.Key)
			}
		default:
			return nil, invalidf("answer must reference a question id or key")
		}

		value, err := ParseAnswer(q, in.Value)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &models.ClarificationAnswer{
			SessionID:  sessionID,
			QuestionID: q.ID,
			Kind:       string(value.Kind),
			Value:      datatypes.JSON(value.JSON()),
		})
	}

	for _, row := range rows {
		if err := s.store.UpsertAnswer(ctx, row); err != nil {
			return nil, fmt.Errorf("save answer: %w", err)
		}
		s.recordEvent(ctx, sessionID, models.EventAnswered, map[string]interface{}{
			"question_id": row.QuestionID.String(),
			"key":         byID[row.QuestionID].Key,
			"kind":        row.Kind,
		})
	}

	completeness, status, err := s.refresh(ctx, sess, questions)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"answers":      len(rows),
		"completeness": completeness,
		"status":       status,
	}).Info("Answers recorded")

	return &AnswerResult{
		SessionID:    sessionID,
		Status:       status,
		Completeness: completeness,
		CanFinalize:  s.canFinalizeHint(completeness, len(questions)),
	}, nil
}

// AnswerQuestion records a single answer addressed only by question id.
func (s *Service) AnswerQuestion(ctx context.Context, questionID uuid.UUID, value json.RawMessage) (*AnswerResult, error) {
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, notFound(err, "question "+questionID.String())
	}
	return s.SubmitAnswers(ctx, q.SessionID, []AnswerInput{{QuestionID: q.ID, Value: value}})
}

// refresh recomputes completeness from persisted rows and moves the session
// to ready or collecting.
func (s *Service) refresh(ctx context.Context, sess *models.ClarificationSession, questions []models.ClarificationQuestion) (float64, models.SessionStatus, error) {
	answers, err := s.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return 0, "", fmt.Errorf("list answers: %w", err)
	}
	completeness := Completeness(questions, answers)
	status := statusAfterAnswer(completeness)
	if !CanTransition(sess.Status, status) {
		return 0, "", conflictf("session %s cannot move from %s to %s", sess.ID, sess.Status, status)
	}

	if err := s.store.UpdateSession(ctx, sess.ID, repository.SessionUpdate{
		Status:       statusPtr(status),
		Completeness: floatPtr(completeness),
	}); err != nil {
		return 0, "", fmt.Errorf("update session: %w", err)
	}
	return completeness, status, nil
}

// Approve records the filters the session is about to be finalized against.
// It is an audit marker and never blocks finalize.
func (s *Service) Approve(ctx context.Context, sessionID uuid.UUID, filters json.RawMessage) (*SessionView, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canApprove(sess.Status) {
		return nil, conflictf("session %s is %s and cannot be approved", sessionID, sess.Status)
	}

	if len(strings.TrimSpace(string(filters))) == 0 {
		filters = json.RawMessage("{}")
	}
	if !json.Valid(filters) {
		return nil, invalidf("filters must be valid JSON")
	}

	if err := s.store.UpdateSession(ctx, sessionID, repository.SessionUpdate{
		Status:          statusPtr(models.StatusApproved),
		ApprovedFilters: datatypes.JSON(filters),
	}); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.recordEvent(ctx, sessionID, models.EventApprovedFilters, map[string]interface{}{"filters": filters})

	return s.GetSessionView(ctx, sessionID)
}
