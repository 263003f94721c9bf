package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const thesisVersionAttempts = 3

// GormStore implements Store on PostgreSQL
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (r *GormStore) CreateQuery(ctx context.Context, q *models.Query) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *GormStore) GetQuery(ctx context.Context, id uuid.UUID) (*models.Query, error) {
	var q models.Query
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &q, nil
}

func (r *GormStore) ListRecentQueries(ctx context.Context, email string, limit int) ([]models.Query, error) {
	var queries []models.Query
	tx := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if email != "" {
		tx = tx.Where("email = ?", email)
	}
	err := tx.Find(&queries).Error
	return queries, err
}

func (r *GormStore) CreateSession(ctx context.Context, s *models.ClarificationSession) error {
	return mapError(r.db.WithContext(ctx).Create(s).Error)
}

func (r *GormStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ClarificationSession, error) {
	var s models.ClarificationSession
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *GormStore) FindOpenSession(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error) {
	var s models.ClarificationSession
	err := r.db.WithContext(ctx).
		Where("query_id = ? AND status <> ?", queryID, models.StatusComplete).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *GormStore) LatestSessionForQuery(ctx context.Context, queryID uuid.UUID) (*models.ClarificationSession, error) {
	var s models.ClarificationSession
	err := r.db.WithContext(ctx).
		Where("query_id = ?", queryID).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *GormStore) UpdateSession(ctx context.Context, id uuid.UUID, u SessionUpdate) error {
	if u.empty() {
		return nil
	}
	fields := map[string]interface{}{"updated_at": time.Now()}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.Completeness != nil {
		fields["completeness"] = *u.Completeness
	}
	if u.Metadata != nil {
		fields["metadata"] = u.Metadata
	}
	if u.ApprovedFilters != nil {
		fields["approved_filters"] = u.ApprovedFilters
	}
	if u.CurrentThesisVersion != nil {
		fields["current_thesis_version"] = *u.CurrentThesisVersion
	}

	res := r.db.WithContext(ctx).
		Model(&models.ClarificationSession{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormStore) CreateQuestions(ctx context.Context, qs []models.ClarificationQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	return mapError(r.db.WithContext(ctx).Create(&qs).Error)
}

func (r *GormStore) ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationQuestion, error) {
	var qs []models.ClarificationQuestion
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_index ASC").
		Find(&qs).Error
	return qs, err
}

func (r *GormStore) GetQuestion(ctx context.Context, id uuid.UUID) (*models.ClarificationQuestion, error) {
	var q models.ClarificationQuestion
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &q, nil
}

func (r *GormStore) UpsertAnswer(ctx context.Context, a *models.ClarificationAnswer) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.db.WithContext(ctx).Raw(`
		INSERT INTO clarification_answers (id, session_id, question_id, kind, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, a.ID, a.SessionID, a.QuestionID, a.Kind, a.Value).Row()
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("upsert answer: %w", mapError(err))
	}
	return nil
}

func (r *GormStore) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationAnswer, error) {
	var answers []models.ClarificationAnswer
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&answers).Error
	return answers, err
}

func (r *GormStore) AppendEvent(ctx context.Context, e *models.ClarificationEvent) error {
	return mapError(r.db.WithContext(ctx).Create(e).Error)
}

func (r *GormStore) MaxEventSeq(ctx context.Context, sessionID uuid.UUID, version int) (int64, error) {
	var seq int64
	err := r.db.WithContext(ctx).
		Model(&models.ClarificationEvent{}).
		Where("session_id = ? AND version = ?", sessionID, version).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}

func (r *GormStore) HasEvent(ctx context.Context, sessionID uuid.UUID, version int, eventType string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ClarificationEvent{}).
		Where("session_id = ? AND version = ? AND type = ?", sessionID, version, eventType).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

func (r *GormStore) AppendLLMEvent(ctx context.Context, e *models.LLMEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *GormStore) ListLLMEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.LLMEvent, error) {
	var events []models.LLMEvent
	tx := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&events).Error
	return events, err
}

func (r *GormStore) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]models.ClarificationEvent, error) {
	var events []models.ClarificationEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, seq ASC").
		Find(&events).Error
	return events, err
}

func (r *GormStore) LatestEvent(ctx context.Context, sessionID uuid.UUID) (*models.ClarificationEvent, error) {
	var e models.ClarificationEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, seq DESC").
		First(&e).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

// CreateThesisVersion takes MAX(version)+1; a concurrent writer that wins the
// same number surfaces as a unique violation and the next number is tried.
func (r *GormStore) CreateThesisVersion(ctx context.Context, t *models.ThesisVersion) error {
	var lastErr error
	for attempt := 0; attempt < thesisVersionAttempts; attempt++ {
		var next int
		err := r.db.WithContext(ctx).
			Model(&models.ThesisVersion{}).
			Where("session_id = ?", t.SessionID).
			Select("COALESCE(MAX(version), 0) + 1").
			Scan(&next).Error
		if err != nil {
			return fmt.Errorf("next thesis version: %w", err)
		}
		t.Version = next

		lastErr = mapError(r.db.WithContext(ctx).Create(t).Error)
		if !errors.Is(lastErr, ErrConflict) {
			return lastErr
		}
	}
	return lastErr
}

func (r *GormStore) ListThesisVersions(ctx context.Context, sessionID uuid.UUID) ([]models.ThesisVersion, error) {
	var versions []models.ThesisVersion
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("version ASC").
		Find(&versions).Error
	return versions, err
}

func (r *GormStore) GetThesisVersion(ctx context.Context, sessionID uuid.UUID, version int) (*models.ThesisVersion, error) {
	var t models.ThesisVersion
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND version = ?", sessionID, version).
		First(&t).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *GormStore) UpdateThesisStatus(ctx context.Context, sessionID uuid.UUID, version int, status models.ThesisStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.ThesisVersion{}).
		Where("session_id = ? AND version = ?", sessionID, version).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
