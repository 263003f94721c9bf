package models

import "encoding/json"

type QueryRequest struct {
	Text         string                 `json:"text"`
	QueryID      string                 `json:"query_id"`
	Email        string                 `json:"email"`
	MaxQuestions int                    `json:"maxQuestions"`
	Facets       map[string]interface{} `json:"facets"`
}

type StartContext struct {
	Domain    string                 `json:"domain"`
	ProjectID string                 `json:"projectId"`
	Defaults  map[string]interface{} `json:"defaults"`
}

type StartRequest struct {
	OriginalQuery string        `json:"originalQuery" binding:"required"`
	Context       *StartContext `json:"context"`
	MaxQuestions  int           `json:"maxQuestions"`
	TimeoutMs     int           `json:"timeoutMs"`
}

type AnswerItem struct {
	QuestionID string          `json:"questionId"`
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
}

type AnswerRequest struct {
	SessionID string       `json:"sessionId" binding:"required"`
	Answers   []AnswerItem `json:"answers" binding:"required"`
}

type SingleAnswerRequest struct {
	QuestionID string          `json:"question_id" binding:"required"`
	Value      json.RawMessage `json:"value"`
}

type ApproveRequest struct {
	SessionID string          `json:"sessionId" binding:"required"`
	Filters   json.RawMessage `json:"filters"`
}

type SessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type RegenerateRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Feedback  string `json:"feedback"`
}

type ThesisFeedbackRequest struct {
	SessionID      string `json:"sessionId" binding:"required"`
	Version        int    `json:"version"`
	Decision       string `json:"decision" binding:"required"`
	Reason         string `json:"reason"`
	ChangeRequests string `json:"changeRequests"`
}

type StreamRequest struct {
	SessionID string `json:"sessionId"`
	UserQuery string `json:"userQuery" binding:"required"`
	Mode      string `json:"mode"`
}

type StreamResponse struct {
	SessionID string `json:"sessionId"`
	SSEURL    string `json:"sseUrl"`
}
