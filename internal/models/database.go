package models

// GORM models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a clarification session.
type SessionStatus string

const (
	StatusGenerating SessionStatus = "generating"
	StatusPresented  SessionStatus = "presented"
	StatusCollecting SessionStatus = "collecting"
	StatusReady      SessionStatus = "ready"
	StatusApproved   SessionStatus = "approved"
	StatusComplete   SessionStatus = "complete"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusGenerating, StatusPresented, StatusCollecting, StatusReady, StatusApproved, StatusComplete:
		return true
	}
	return false
}

// QuestionType determines the shape of an answer value.
type QuestionType string

const (
	TypeText         QuestionType = "text"
	TypeTextarea     QuestionType = "textarea"
	TypeSingleSelect QuestionType = "single_select"
	TypeMultiSelect  QuestionType = "multi_select"
	TypeNumber       QuestionType = "number"
	TypeDate         QuestionType = "date"
	TypeFile         QuestionType = "file"
)

func (t QuestionType) IsChoice() bool {
	return t == TypeSingleSelect || t == TypeMultiSelect
}

func (t QuestionType) Valid() bool {
	switch t {
	case TypeText, TypeTextarea, TypeSingleSelect, TypeMultiSelect, TypeNumber, TypeDate, TypeFile:
		return true
	}
	return false
}

// ThesisStatus tracks the review state of one thesis version.
type ThesisStatus string

const (
	ThesisDraft     ThesisStatus = "draft"
	ThesisGenerated ThesisStatus = "generated"
	ThesisAccepted  ThesisStatus = "accepted"
	ThesisRejected  ThesisStatus = "rejected"
)

// Event types written to the audit log.
const (
	EventAsked              = "asked"
	EventAnswered           = "answered"
	EventApprovedFilters    = "approved_filters"
	EventFinalized          = "finalized"
	EventThesisRegenerated  = "thesis_regenerated"
	EventFinalThesis        = "final_thesis"
	EventThesisRejected     = "thesis_rejected"
	EventProgress           = "progress"
	EventClarifyingQuestion = "clarifying_questions"
	EventThesisDraft        = "thesis_draft"
	EventSources            = "sources"
	EventError              = "error"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Query represents a submitted research request
type Query struct {
	BaseModel
	Text   string            `json:"text" gorm:"not null"`
	Facets datatypes.JSONMap `json:"facets,omitempty" gorm:"type:jsonb"`
	Email  *string           `json:"email,omitempty" gorm:"index"`
}

func (Query) TableName() string { return "queries" }

func (q *Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("query text is required")
	}
	return nil
}

func (q *Query) BeforeCreate(tx *gorm.DB) error {
	if err := q.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return q.Validate()
}

// ClarificationSession is the unit of the clarification state machine
type ClarificationSession struct {
	BaseModel
	UpdatedAt            time.Time         `json:"updated_at"`
	QueryID              *uuid.UUID        `json:"query_id,omitempty" gorm:"type:uuid;index"`
	OriginalQuery        string            `json:"original_query" gorm:"not null"`
	Status               SessionStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
	Completeness         float64           `json:"completeness" gorm:"not null"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	ApprovedFilters      datatypes.JSON    `json:"approved_filters,omitempty" gorm:"type:jsonb"`
	CurrentThesisVersion *int              `json:"current_thesis_version,omitempty"`
}

func (ClarificationSession) TableName() string { return "clarification_sessions" }

func (s *ClarificationSession) Validate() error {
	if strings.TrimSpace(s.OriginalQuery) == "" {
		return fmt.Errorf("original query is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	if s.Completeness < 0 || s.Completeness > 1 {
		return fmt.Errorf("completeness %v out of range", s.Completeness)
	}
	return nil
}

func (s *ClarificationSession) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// MetadataString reads a string value from the session metadata.
func (s *ClarificationSession) MetadataString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	v, _ := s.Metadata[key].(string)
	return v
}

// Option is one choice of a select question
type Option struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	IsDefault bool   `json:"is_default"`
}

// ClarificationQuestion belongs to exactly one session; created in bulk, never mutated
type ClarificationQuestion struct {
	BaseModel
	SessionID   uuid.UUID                  `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:idx_question_session_key;index:idx_question_session_order"`
	OrderIndex  int                        `json:"order_index" gorm:"not null;index:idx_question_session_order"`
	Key         string                     `json:"key" gorm:"not null;uniqueIndex:idx_question_session_key"`
	Label       string                     `json:"label" gorm:"not null"`
	Type        QuestionType               `json:"type" gorm:"type:varchar(20);not null"`
	Options     datatypes.JSONSlice[Option] `json:"options,omitempty" gorm:"type:jsonb"`
	Required    bool                       `json:"required" gorm:"not null"`
	Placeholder string                     `json:"placeholder,omitempty"`
	Help        string                     `json:"help,omitempty"`
	Reason      string                     `json:"reason,omitempty"`
}

func (ClarificationQuestion) TableName() string { return "clarification_questions" }

// HasOption reports whether value is one of the question's option values.
func (q *ClarificationQuestion) HasOption(value string) bool {
	for _, o := range q.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// ClarificationAnswer is keyed by (session_id, question_id)
type ClarificationAnswer struct {
	BaseModel
	UpdatedAt  time.Time      `json:"updated_at"`
	SessionID  uuid.UUID      `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:idx_answer_session_question"`
	QuestionID uuid.UUID      `json:"question_id" gorm:"type:uuid;not null;uniqueIndex:idx_answer_session_question"`
	Kind       string         `json:"kind" gorm:"type:varchar(20);not null"`
	Value      datatypes.JSON `json:"value" gorm:"type:jsonb"`
}

func (ClarificationAnswer) TableName() string { return "clarification_answers" }

// ClarificationEvent is an append-only audit log entry
type ClarificationEvent struct {
	BaseModel
	SessionID uuid.UUID      `json:"session_id" gorm:"type:uuid;not null;index"`
	Type      string         `json:"type" gorm:"type:varchar(40);not null"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Version   int            `json:"version"`
	Seq       int64          `json:"seq"`
}

func (ClarificationEvent) TableName() string { return "clarification_events" }

// LLMEvent records one provider call made on behalf of a session.
type LLMEvent struct {
	BaseModel
	SessionID     *uuid.UUID `json:"session_id,omitempty" gorm:"type:uuid"`
	Provider      string     `json:"provider" gorm:"type:varchar(20);not null"`
	Model         string     `json:"model" gorm:"type:varchar(80)"`
	Purpose       string     `json:"purpose,omitempty" gorm:"type:varchar(40)"`
	LatencyMs     int64      `json:"latency_ms"`
	PromptChars   int        `json:"prompt_chars"`
	ResponseChars int        `json:"response_chars"`
	Error         string     `json:"error,omitempty" gorm:"type:text"`
}

func (LLMEvent) TableName() string { return "llm_events" }

// ThesisVersion is one synthesized thesis; versions are never overwritten
type ThesisVersion struct {
	BaseModel
	SessionID uuid.UUID      `json:"session_id" gorm:"type:uuid;not null;uniqueIndex:idx_thesis_session_version"`
	Version   int            `json:"version" gorm:"not null;uniqueIndex:idx_thesis_session_version"`
	Status    ThesisStatus   `json:"status" gorm:"type:varchar(20);not null"`
	Source    string         `json:"source" gorm:"type:varchar(20);not null"`
	Content   datatypes.JSON `json:"content" gorm:"type:jsonb;not null"`
	Feedback  string         `json:"feedback,omitempty"`
}

func (ThesisVersion) TableName() string { return "thesis_versions" }

// All returns every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Query{},
		&ClarificationSession{},
		&ClarificationQuestion{},
		&ClarificationAnswer{},
		&ClarificationEvent{},
		&ThesisVersion{},
		&LLMEvent{},
	}
}
