package clarify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ayash-Bera/intake/internal/llm"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type StartQueryInput struct {
	Text         string
	QueryID      *uuid.UUID
	Email        string
	Facets       map[string]interface{}
	MaxQuestions int
}

type StartInput struct {
	OriginalQuery string
	Domain        string
	ProjectID     string
	Defaults      map[string]interface{}
	MaxQuestions  int
	Timeout       time.Duration
}

func validateQueryText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinQueryLength {
		return "", invalidf("query must be at least %d characters", MinQueryLength)
	}
	return text, nil
}

// StartForQuery creates (or reloads) a Query and opens a clarification
// session for it. An existing open session for the query is returned as is.
func (s *Service) StartForQuery(ctx context.Context, in StartQueryInput) (*SessionView, error) {
	var query *models.Query

	if in.QueryID != nil {
		q, err := s.store.GetQuery(ctx, *in.QueryID)
		if err != nil {
			return nil, notFound(err, "query "+in.QueryID.String())
		}
		query = q

		open, err := s.store.FindOpenSession(ctx, q.ID)
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"query_id":   q.ID,
				"session_id": open.ID,
			}).Info("Reusing open session for query")
			return s.GetSessionView(ctx, open.ID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find open session: %w", err)
		}
	} else {
		text, err := validateQueryText(in.Text)
		if err != nil {
			return nil, err
		}
		query = &models.Query{Text: text, Facets: in.Facets}
		if email := strings.TrimSpace(in.Email); email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, invalidf("invalid email %q", email)
			}
			query.Email = &email
		}
		if err := s.store.CreateQuery(ctx, query); err != nil {
			return nil, fmt.Errorf("create query: %w", err)
		}
	}

	email := ""
	if query.Email != nil {
		email = *query.Email
	}
	meta := datatypes.JSONMap{"query_id": query.ID.String()}
	if domain := utils.EmailDomain(email); domain != "" {
		meta["email_domain"] = domain
	}

	sess := &models.ClarificationSession{
		QueryID:       &query.ID,
		OriginalQuery: query.Text,
		Status:        models.StatusGenerating,
		Metadata:      meta,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if open, ferr := s.store.FindOpenSession(ctx, query.ID); ferr == nil {
				return s.GetSessionView(ctx, open.ID)
			}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"query_id":   query.ID,
		"session_id": sess.ID,
	}).Info("Clarification session created")

	payload := map[string]interface{}{"query_id": query.ID.String()}
	if email != "" {
		payload["email"] = email
	}
	if len(query.Facets) > 0 {
		payload["facets"] = map[string]interface{}(query.Facets)
	}

	return s.generate(ctx, sess, GenerateOptions{
		Domain:       utils.EmailDomain(email),
		Payload:      payload,
		MaxQuestions: in.MaxQuestions,
	})
}

// Start opens a standalone session that is not linked to a Query.
func (s *Service) Start(ctx context.Context, in StartInput) (*SessionView, error) {
	text, err := validateQueryText(in.OriginalQuery)
	if err != nil {
		return nil, err
	}

	meta := datatypes.JSONMap{}
	if in.Domain != "" {
		meta["domain"] = in.Domain
	}
	if in.ProjectID != "" {
		meta["project_id"] = in.ProjectID
	}
	if len(in.Defaults) > 0 {
		meta["defaults"] = in.Defaults
	}

	sess := &models.ClarificationSession{
		OriginalQuery: text,
		Status:        models.StatusGenerating,
		Metadata:      meta,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var payload map[string]interface{}
	if in.ProjectID != "" || len(in.Defaults) > 0 {
		payload = map[string]interface{}{"project_id": in.ProjectID, "defaults": in.Defaults}
	}
	return s.generate(ctx, sess, GenerateOptions{
		Domain:       in.Domain,
		Payload:      payload,
		MaxQuestions: in.MaxQuestions,
		Timeout:      in.Timeout,
	})
}

// CreateStandalone opens a session without generating questions yet; the
// streaming presenter drives generation later.
func (s *Service) CreateStandalone(ctx context.Context, originalQuery string) (*models.ClarificationSession, error) {
	text, err := validateQueryText(originalQuery)
	if err != nil {
		return nil, err
	}
	meta := datatypes.JSONMap{}
	if domain := utils.DomainHint(text); domain != "" {
		meta["domain"] = domain
	}
	sess := &models.ClarificationSession{
		OriginalQuery: text,
		Status:        models.StatusGenerating,
		Metadata:      meta,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// EnsureQuestions runs question generation for a session still in
// generating, or returns the current view otherwise. Re-entry is safe.
func (s *Service) EnsureQuestions(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusGenerating {
		return s.GetSessionView(ctx, sessionID)
	}

	existing, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(existing) > 0 {
		return s.completeGeneration(ctx, sess, existing, nil)
	}

	domain := sess.MetadataString("domain")
	if domain == "" {
		domain = sess.MetadataString("email_domain")
	}
	return s.generate(ctx, sess, GenerateOptions{Domain: domain})
}

func (s *Service) generate(ctx context.Context, sess *models.ClarificationSession, opts GenerateOptions) (*SessionView, error) {
	opts.Timeout = s.clampTimeout(opts.Timeout)
	opts.MaxQuestions = s.maxQuestions(opts.MaxQuestions)

	gctx, cancel := context.WithTimeout(llm.WithCallInfo(ctx, llm.CallInfo{
		SessionID: sess.ID.String(),
		Purpose:   "questions",
	}), opts.Timeout)
	defer cancel()

	start := time.Now()
	set, err := s.questions.GenerateQuestions(gctx, sess.OriginalQuery, opts)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  sess.ID,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Error("Question generation failed")
		return nil, fmt.Errorf("%w: questions: %v", ErrGeneration, err)
	}

	drafts := set.Questions
	if len(drafts) > opts.MaxQuestions {
		drafts = drafts[:opts.MaxQuestions]
	}
	questions := NormalizeQuestions(sess.ID, sess.OriginalQuery, drafts)

	if err := s.store.CreateQuestions(ctx, questions); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("persist questions: %w", err)
		}
		// A concurrent generation for the same session already persisted its set.
		if questions, err = s.store.ListQuestions(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"questions":   len(questions),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Questions generated")

	return s.completeGeneration(ctx, sess, questions, set)
}

func (s *Service) completeGeneration(ctx context.Context, sess *models.ClarificationSession, questions []models.ClarificationQuestion, set *QuestionSet) (*SessionView, error) {
	meta := datatypes.JSONMap{}
	for k, v := range sess.Metadata {
		meta[k] = v
	}
	if set != nil {
		meta["generator_completeness"] = set.Completeness
		if set.ScopeType != "" {
			meta["scope_type"] = set.ScopeType
		}
		if set.Notice != "" {
			meta["notice"] = set.Notice
		}
	}

	answers, err := s.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	completeness := Completeness(questions, answers)
	status := statusAfterGeneration(len(questions))

	if err := s.store.UpdateSession(ctx, sess.ID, repository.SessionUpdate{
		Status:       statusPtr(status),
		Completeness: floatPtr(completeness),
		Metadata:     meta,
	}); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if len(questions) > 0 {
		s.recordEvent(ctx, sess.ID, models.EventAsked, map[string]interface{}{"count": len(questions)})
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":   sess.ID,
		"status":       status,
		"completeness": completeness,
	}).Info("Session questions presented")

	return s.GetSessionView(ctx, sess.ID)
}
