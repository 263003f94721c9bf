package clarify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionView is the read model returned to clients.
type SessionView struct {
	SessionID            uuid.UUID                      `json:"session_id"`
	QueryID              *uuid.UUID                     `json:"query_id,omitempty"`
	OriginalQuery        string                         `json:"original_query"`
	Status               models.SessionStatus           `json:"status"`
	Completeness         float64                        `json:"completeness"`
	CanFinalize          bool                           `json:"can_finalize"`
	FinalizeThreshold    float64                        `json:"finalize_threshold"`
	Questions            []models.ClarificationQuestion `json:"questions"`
	Answers              map[string]json.RawMessage     `json:"answers"`
	CurrentThesisVersion *int                           `json:"current_thesis_version,omitempty"`
	Thesis               json.RawMessage                `json:"thesis,omitempty"`
	Notice               string                         `json:"notice,omitempty"`
	Metadata             map[string]interface{}         `json:"metadata,omitempty"`
	CreatedAt            time.Time                      `json:"created_at"`
}

// GetSessionView loads a session with its questions and answers. Completeness
// is recomputed from the stored rows; a stale stored value left behind by
// concurrent answer submissions is repaired on the way.
func (s *Service) GetSessionView(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questions, answers, err := s.loadAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := sess.Status
	completeness := sess.Completeness
	if status != models.StatusGenerating {
		completeness = Completeness(questions, answers)
		if status == models.StatusCollecting || status == models.StatusReady {
			status = statusAfterAnswer(completeness)
		}
		if completeness != sess.Completeness || status != sess.Status {
			s.repair(ctx, sess, status, completeness)
		}
	}

	keys := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		keys[q.ID] = q.Key
	}
	answerMap := make(map[string]json.RawMessage, len(answers))
	for _, a := range answers {
		if key, ok := keys[a.QuestionID]; ok {
			answerMap[key] = json.RawMessage(a.Value)
		}
	}

	view := &SessionView{
		SessionID:            sess.ID,
		QueryID:              sess.QueryID,
		OriginalQuery:        sess.OriginalQuery,
		Status:               status,
		Completeness:         completeness,
		CanFinalize:          status != models.StatusGenerating && s.canFinalizeHint(completeness, len(questions)),
		FinalizeThreshold:    s.cfg.FinalizeThreshold,
		Questions:            questions,
		Answers:              answerMap,
		CurrentThesisVersion: sess.CurrentThesisVersion,
		Notice:               sess.MetadataString("notice"),
		Metadata:             sess.Metadata,
		CreatedAt:            sess.CreatedAt,
	}
	if view.Questions == nil {
		view.Questions = []models.ClarificationQuestion{}
	}

	if sess.CurrentThesisVersion != nil {
		t, err := s.store.GetThesisVersion(ctx, sess.ID, *sess.CurrentThesisVersion)
		switch {
		case err == nil:
			view.Thesis = json.RawMessage(t.Content)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("load thesis: %w", err)
		}
	}
	return view, nil
}

func (s *Service) repair(ctx context.Context, sess *models.ClarificationSession, status models.SessionStatus, completeness float64) {
	u := repository.SessionUpdate{Completeness: floatPtr(completeness)}
	if status != sess.Status {
		u.Status = statusPtr(status)
	}
	if err := s.store.UpdateSession(ctx, sess.ID, u); err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Warn("Failed to repair session completeness")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"session_id":   sess.ID,
		"stored":       sess.Completeness,
		"completeness": completeness,
	}).Debug("Repaired stale session completeness")
}

// QuestionsForQuery reads back the latest session opened for a query.
func (s *Service) QuestionsForQuery(ctx context.Context, queryID uuid.UUID) (*SessionView, error) {
	sess, err := s.store.LatestSessionForQuery(ctx, queryID)
	if err != nil {
		return nil, notFound(err, "session for query "+queryID.String())
	}
	return s.GetSessionView(ctx, sess.ID)
}

func (s *Service) Events(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationEvent, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, sessionID)
}

func (s *Service) LastEvent(ctx context.Context, sessionID uuid.UUID) (*models.ClarificationEvent, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	e, err := s.store.LatestEvent(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "events for session "+sessionID.String())
	}
	return e, nil
}

func (s *Service) Theses(ctx context.Context, sessionID uuid.UUID) ([]models.ThesisVersion, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListThesisVersions(ctx, sessionID)
}

func (s *Service) RecentQueries(ctx context.Context, email string, limit int) ([]models.Query, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.store.ListRecentQueries(ctx, email, limit)
}

// LLMEvents lists the provider calls made for a session, newest first.
func (s *Service) LLMEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.LLMEvent, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListLLMEvents(ctx, sessionID, limit)
}
