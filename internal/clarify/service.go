package clarify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/publish"
	"github.com/Ayash-Bera/intake/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	HardMaxQuestions = 10
	MinQueryLength   = 3
)

type Config struct {
	MaxQuestions      int
	FinalizeThreshold float64
	MinTimeout        time.Duration
	MaxTimeout        time.Duration
	DefaultTimeout    time.Duration
	FeedbackMinLength int
}

func DefaultConfig() Config {
	return Config{
		MaxQuestions:      5,
		FinalizeThreshold: 0.85,
		MinTimeout:        3 * time.Second,
		MaxTimeout:        30 * time.Second,
		DefaultTimeout:    30 * time.Second,
		FeedbackMinLength: 20,
	}
}

// Service runs the clarification session protocol on top of a Store.
type Service struct {
	store     repository.Store
	questions QuestionGenerator
	theses    ThesisGenerator
	publisher publish.Publisher
	cfg       Config
	logger    *logrus.Logger
}

func NewService(
	store repository.Store,
	questions QuestionGenerator,
	theses ThesisGenerator,
	publisher publish.Publisher,
	cfg Config,
	logger *logrus.Logger,
) *Service {
	if publisher == nil {
		publisher = publish.NopPublisher{}
	}
	defaults := DefaultConfig()
	if cfg.MaxQuestions <= 0 || cfg.MaxQuestions > HardMaxQuestions {
		cfg.MaxQuestions = defaults.MaxQuestions
	}
	if cfg.FinalizeThreshold <= 0 || cfg.FinalizeThreshold > 1 {
		cfg.FinalizeThreshold = defaults.FinalizeThreshold
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = defaults.MinTimeout
	}
	if cfg.MaxTimeout < cfg.MinTimeout {
		cfg.MaxTimeout = defaults.MaxTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = cfg.MaxTimeout
	}
	if cfg.FeedbackMinLength <= 0 {
		cfg.FeedbackMinLength = defaults.FeedbackMinLength
	}
	return &Service{
		store:     store,
		questions: questions,
		theses:    theses,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// clampTimeout bounds any caller-supplied timeout into [MinTimeout, MaxTimeout].
func (s *Service) clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = s.cfg.DefaultTimeout
	}
	if d < s.cfg.MinTimeout {
		return s.cfg.MinTimeout
	}
	if d > s.cfg.MaxTimeout {
		return s.cfg.MaxTimeout
	}
	return d
}

func (s *Service) maxQuestions(requested int) int {
	if requested > 0 && requested < s.cfg.MaxQuestions {
		return requested
	}
	return s.cfg.MaxQuestions
}

func (s *Service) canFinalizeHint(completeness float64, questionCount int) bool {
	return questionCount == 0 || completeness >= s.cfg.FinalizeThreshold
}

// recordEvent appends to the audit log. A failure here never fails the
// operation that produced the event.
func (s *Service) recordEvent(ctx context.Context, sessionID uuid.UUID, eventType string, payload interface{}) {
	if err := s.appendEvent(ctx, sessionID, eventType, payload, 0, 0); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"event":      eventType,
		}).Error("Failed to write session event")
	}
}

func (s *Service) appendEvent(ctx context.Context, sessionID uuid.UUID, eventType string, payload interface{}, version int, seq int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.store.AppendEvent(ctx, &models.ClarificationEvent{
		SessionID: sessionID,
		Type:      eventType,
		Payload:   datatypes.JSON(data),
		Version:   version,
		Seq:       seq,
	})
}

// RecordStreamEvent persists a frame emitted by the streaming presenter. A
// frame the log already holds once per version yields ErrConflict.
func (s *Service) RecordStreamEvent(ctx context.Context, sessionID uuid.UUID, eventType string, payload interface{}, version int, seq int64) error {
	err := s.appendEvent(ctx, sessionID, eventType, payload, version, seq)
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %s already recorded for v%d", ErrConflict, eventType, version)
	}
	return err
}

func (s *Service) loadSession(ctx context.Context, id uuid.UUID) (*models.ClarificationSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, notFound(err, "session "+id.String())
	}
	return sess, nil
}

func statusPtr(st models.SessionStatus) *models.SessionStatus { return &st }

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }
