package repository

import (
	"context"
	"errors"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing row")
)

// SessionUpdate carries the fields to change on a session; nil fields are left as is.
type SessionUpdate struct {
	Status               *models.SessionStatus
	Completeness         *float64
	Metadata             datatypes.JSONMap
	ApprovedFilters      datatypes.JSON
	CurrentThesisVersion *int
}

func (u SessionUpdate) empty() bool {
	return u.Status == nil && u.Completeness == nil && u.Metadata == nil &&
		u.ApprovedFilters == nil && u.CurrentThesisVersion == nil
}

// Store is the persistence boundary of the clarification protocol. Every
// operation is a single row or a single statement.
type Store interface {
	CreateQuery(ctx context.Context, q *models.Query) error
	GetQuery(ctx context.Context, id uuid.UUID) (*models.Query, error)
	ListRecentQueries(ctx context.Context, email string, limit int) ([]models.Query, error)

	// CreateSession returns ErrConflict when the query already has an open session.
	CreateSession(ctx context.Context, s *models.ClarificationSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ClarificationSession, error)
	FindOpenSession(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error)
	LatestSessionForQuery(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error)
	UpdateSession(ctx context.Context, id uuid.UUID, u SessionUpdate) error

	CreateQuestions(ctx context.Context, qs []models.ClarificationQuestion) error
	ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationQuestion, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.ClarificationQuestion, error)

	// UpsertAnswer inserts or overwrites the answer keyed by (session_id, question_id).
	UpsertAnswer(ctx context.Context, a *models.ClarificationAnswer) error
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationAnswer, error)

	// AppendEvent returns ErrConflict for a second clarifying_questions event
	// at the same (session_id, version).
	AppendEvent(ctx context.Context, e *models.ClarificationEvent) error
	ListEvents(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationEvent, error)
	LatestEvent(ctx context.Context, sessionID uuid.UUID) (*models.ClarificationEvent, error)
	// MaxEventSeq is the highest recorded stream seq for the pair, 0 if none.
	MaxEventSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error)
	HasEvent(ctx context.Context, sessionID uuid.UUID, version int, eventType string) (bool, error)

	AppendLLMEvent(ctx context.Context, e *models.LLMEvent) error
	// ListLLMEvents returns the newest calls first.
	ListLLMEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.LLMEvent, error)

	// CreateThesisVersion assigns the next version number for the session.
	CreateThesisVersion(ctx context.Context, t *models.ThesisVersion) error
	ListThesisVersions(ctx context.Context, sessionID uuid.UUID) ([]models.ThesisVersion, error)
	GetThesisVersion(ctx context.Context, sessionID uuid.UUID, version int) (*models.ThesisVersion, error)
	UpdateThesisStatus(ctx context.Context, sessionID uuid.UUID, version int, status models.ThesisStatus) error

	Ping(ctx context.Context) error
}
