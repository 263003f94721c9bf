package clarify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/publish"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	SourceFinalize   = "finalize"
	SourceRegenerate = "regenerate"
	SourceStream     = "stream"
)

type ThesisResult struct {
	SessionID    uuid.UUID            `json:"session_id"`
	Status       models.SessionStatus `json:"status"`
	Completeness float64              `json:"completeness"`
	Version      int                  `json:"version"`
	Thesis       json.RawMessage      `json:"thesis"`
	Filters      json.RawMessage      `json:"filters,omitempty"`
}

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

type DecisionInput struct {
	SessionID uuid.UUID
	// Version 0 means the session's current version.
	Version        int
	Decision       Decision
	Reason         string
	ChangeRequests string
}

// Finalize synthesizes a thesis and seals the session as complete. The
// session status only advances after the thesis row is stored; a generator
// failure leaves status and completeness untouched.
func (s *Service) Finalize(ctx context.Context, sessionID uuid.UUID) (*ThesisResult, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canFinalize(sess.Status) {
		return nil, conflictf("session %s is %s and cannot be finalized", sessionID, sess.Status)
	}

	questions, answers, err := s.loadAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	doc, err := s.synthesize(ctx, sess, questions, answers, "")
	if err != nil {
		return nil, err
	}

	thesis := &models.ThesisVersion{
		SessionID: sessionID,
		Status:    models.ThesisGenerated,
		Source:    SourceFinalize,
		Content:   datatypes.JSON(doc),
	}
	if err := s.store.CreateThesisVersion(ctx, thesis); err != nil {
		return nil, fmt.Errorf("persist thesis: %w", err)
	}

	completeness := Completeness(questions, answers)
	if err := s.store.UpdateSession(ctx, sessionID, repository.SessionUpdate{
		Status:               statusPtr(models.StatusComplete),
		Completeness:         floatPtr(completeness),
		CurrentThesisVersion: intPtr(thesis.Version),
	}); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.recordEvent(ctx, sessionID, models.EventFinalized, map[string]interface{}{
		"version":      thesis.Version,
		"completeness": completeness,
	})
	s.publishLead(ctx, sess, thesis)

	s.logger.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"version":      thesis.Version,
		"completeness": completeness,
	}).Info("Session finalized")

	return &ThesisResult{
		SessionID:    sessionID,
		Status:       models.StatusComplete,
		Completeness: completeness,
		Version:      thesis.Version,
		Thesis:       doc,
		Filters:      thesisFilters(doc),
	}, nil
}

// Regenerate re-runs synthesis with feedback and stores the result as a new
// current version. Session status is never changed.
func (s *Service) Regenerate(ctx context.Context, sessionID uuid.UUID, feedback string) (*ThesisResult, error) {
	feedback = strings.TrimSpace(feedback)
	if utf8.RuneCountInString(feedback) < s.cfg.FeedbackMinLength {
		return nil, invalidf("feedback must be at least %d characters", s.cfg.FeedbackMinLength)
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusGenerating {
		return nil, conflictf("session %s has no questions yet", sessionID)
	}

	thesis, doc, err := s.newVersion(ctx, sess, feedback, models.ThesisGenerated, SourceRegenerate)
	if err != nil {
		return nil, err
	}

	s.recordEvent(ctx, sessionID, models.EventThesisRegenerated, map[string]interface{}{
		"version":  thesis.Version,
		"feedback": feedback,
	})

	return &ThesisResult{
		SessionID:    sessionID,
		Status:       sess.Status,
		Completeness: sess.Completeness,
		Version:      thesis.Version,
		Thesis:       doc,
		Filters:      thesisFilters(doc),
	}, nil
}

// DraftThesis stores a draft version for the streaming presenter and moves
// the current pointer to it. A complete session keeps its finalized thesis;
// the current version is returned without calling the generator.
func (s *Service) DraftThesis(ctx context.Context, sessionID uuid.UUID) (*ThesisResult, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusComplete && sess.CurrentThesisVersion != nil {
		current, err := s.store.GetThesisVersion(ctx, sessionID, *sess.CurrentThesisVersion)
		if err != nil {
			return nil, notFound(err, fmt.Sprintf("thesis v%d", *sess.CurrentThesisVersion))
		}
		doc := json.RawMessage(current.Content)
		return &ThesisResult{
			SessionID:    sessionID,
			Status:       sess.Status,
			Completeness: sess.Completeness,
			Version:      current.Version,
			Thesis:       doc,
			Filters:      thesisFilters(doc),
		}, nil
	}

	thesis, doc, err := s.newVersion(ctx, sess, "", models.ThesisDraft, SourceStream)
	if err != nil {
		return nil, err
	}
	return &ThesisResult{
		SessionID:    sessionID,
		Status:       sess.Status,
		Completeness: sess.Completeness,
		Version:      thesis.Version,
		Thesis:       doc,
		Filters:      thesisFilters(doc),
	}, nil
}

// DecideThesis records a reviewer decision on a thesis version. A rejection
// carries change requests and immediately produces the next version.
func (s *Service) DecideThesis(ctx context.Context, in DecisionInput) (*ThesisResult, error) {
	var feedback string
	switch in.Decision {
	case DecisionAccept:
	case DecisionReject:
		reason := strings.TrimSpace(in.Reason)
		changes := strings.TrimSpace(in.ChangeRequests)
		if reason == "" || changes == "" {
			return nil, invalidf("a rejection needs a reason and change requests")
		}
		feedback = fmt.Sprintf("Rejected: %s\nRequested changes: %s", reason, changes)
		if utf8.RuneCountInString(changes) < s.cfg.FeedbackMinLength {
			return nil, invalidf("change requests must be at least %d characters", s.cfg.FeedbackMinLength)
		}
	default:
		return nil, invalidf("decision must be %q or %q", DecisionAccept, DecisionReject)
	}

	sess, err := s.loadSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	version := in.Version
	if version == 0 {
		if sess.CurrentThesisVersion == nil {
			return nil, fmt.Errorf("%w: session %s has no thesis", ErrNotFound, in.SessionID)
		}
		version = *sess.CurrentThesisVersion
	}
	thesis, err := s.store.GetThesisVersion(ctx, in.SessionID, version)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("thesis v%d", version))
	}

	if in.Decision == DecisionAccept {
		if err := s.store.UpdateThesisStatus(ctx, in.SessionID, version, models.ThesisAccepted); err != nil {
			return nil, fmt.Errorf("update thesis: %w", err)
		}
		s.recordEvent(ctx, in.SessionID, models.EventFinalThesis, map[string]interface{}{"version": version})
		doc := json.RawMessage(thesis.Content)
		return &ThesisResult{
			SessionID:    in.SessionID,
			Status:       sess.Status,
			Completeness: sess.Completeness,
			Version:      version,
			Thesis:       doc,
			Filters:      thesisFilters(doc),
		}, nil
	}

	if err := s.store.UpdateThesisStatus(ctx, in.SessionID, version, models.ThesisRejected); err != nil {
		return nil, fmt.Errorf("update thesis: %w", err)
	}
	s.recordEvent(ctx, in.SessionID, models.EventThesisRejected, map[string]interface{}{
		"version":         version,
		"reason":          in.Reason,
		"change_requests": in.ChangeRequests,
	})
	return s.Regenerate(ctx, in.SessionID, feedback)
}

func (s *Service) newVersion(ctx context.Context, sess *models.ClarificationSession, feedback string, status models.ThesisStatus, source string) (*models.ThesisVersion, json.RawMessage, error) {
	questions, answers, err := s.loadAnswers(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.synthesize(ctx, sess, questions, answers, feedback)
	if err != nil {
		return nil, nil, err
	}

	thesis := &models.ThesisVersion{
		SessionID: sess.ID,
		Status:    status,
		Source:    source,
		Content:   datatypes.JSON(doc),
		Feedback:  feedback,
	}
	if err := s.store.CreateThesisVersion(ctx, thesis); err != nil {
		return nil, nil, fmt.Errorf("persist thesis: %w", err)
	}
	if err := s.store.UpdateSession(ctx, sess.ID, repository.SessionUpdate{
		CurrentThesisVersion: intPtr(thesis.Version),
	}); err != nil {
		return nil, nil, fmt.Errorf("update session: %w", err)
	}
	return thesis, doc, nil
}

func (s *Service) loadAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationQuestion, []models.ClarificationAnswer, error) {
	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list answers: %w", err)
	}
	return questions, answers, nil
}

// synthesize calls the thesis generator and requires a JSON object back.
func (s *Service) synthesize(ctx context.Context, sess *models.ClarificationSession, questions []models.ClarificationQuestion, answers []models.ClarificationAnswer, feedback string) (json.RawMessage, error) {
	in := ThesisInput{
		OriginalQuery: sess.OriginalQuery,
		Answers:       answerMap(questions, answers),
		Email:         s.submitterEmail(ctx, sess),
		Feedback:      feedback,
	}

	gctx, cancel := context.WithTimeout(llm.WithCallInfo(ctx, llm.CallInfo{
		SessionID: sess.ID.String(),
		Purpose:   "thesis",
	}), s.cfg.MaxTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.theses.GenerateThesis(gctx, in)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  sess.ID,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Error("Thesis generation failed")
		return nil, fmt.Errorf("%w: thesis: %v", ErrGeneration, err)
	}

	doc, err := parseThesis(raw)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Error("Thesis generator returned an unusable document")
		return nil, err
	}
	return doc, nil
}

// answerMap has an entry for every question key, nil when unanswered.
func answerMap(questions []models.ClarificationQuestion, answers []models.ClarificationAnswer) map[string]interface{} {
	byQuestion := make(map[uuid.UUID]models.ClarificationAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	out := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		if a, ok := byQuestion[q.ID]; ok {
			out[q.Key] = StoredAnswer(a).Interface()
		} else {
			out[q.Key] = nil
		}
	}
	return out
}

func (s *Service) submitterEmail(ctx context.Context, sess *models.ClarificationSession) string {
	queryID := sess.QueryID
	if queryID == nil {
		if id, err := uuid.Parse(sess.MetadataString("query_id")); err == nil {
			queryID = &id
		}
	}
	if queryID == nil {
		return ""
	}
	q, err := s.store.GetQuery(ctx, *queryID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("session_id", sess.ID).Warn("Failed to load query for submitter email")
		}
		return ""
	}
	if q.Email == nil {
		return ""
	}
	return *q.Email
}

func (s *Service) publishLead(ctx context.Context, sess *models.ClarificationSession, thesis *models.ThesisVersion) {
	lead := publish.LeadFinalized{
		SessionID:     sess.ID.String(),
		Email:         s.submitterEmail(ctx, sess),
		OriginalQuery: sess.OriginalQuery,
		ThesisVersion: thesis.Version,
		Thesis:        json.RawMessage(thesis.Content),
		FinalizedAt:   time.Now().UTC(),
	}
	if sess.QueryID != nil {
		lead.QueryID = sess.QueryID.String()
	}
	if err := s.publisher.PublishFinalized(ctx, lead); err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Warn("Failed to publish finalized lead")
	}
}

// parseThesis accepts only a JSON object and returns it compacted.
func parseThesis(raw string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: thesis is not a JSON object", ErrGeneration)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(strings.TrimSpace(raw))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return buf.Bytes(), nil
}

func thesisFilters(doc json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil
	}
	return obj["filters"]
}
