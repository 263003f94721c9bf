package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ClarifyHandler struct {
	service *clarify.Service
	logger  *logrus.Logger
}

func NewClarifyHandler(service *clarify.Service, logger *logrus.Logger) *ClarifyHandler {
	return &ClarifyHandler{service: service, logger: logger}
}

// HandleQuery creates a query (or reloads one by id) and opens its session.
func (h *ClarifyHandler) HandleQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	in := clarify.StartQueryInput{
		Text:         req.Text,
		Email:        req.Email,
		Facets:       req.Facets,
		MaxQuestions: req.MaxQuestions,
	}
	if req.QueryID != "" {
		id, ok := parseID(c, req.QueryID, "query_id")
		if !ok {
			return
		}
		in.QueryID = &id
	}

	view, err := h.service.StartForQuery(c.Request.Context(), in)
	if err != nil {
		fail(c, h.logger, "Failed to start clarification", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Clarification session ready", view)
}

func (h *ClarifyHandler) HandleRecentQueries(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "email is required", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	queries, err := h.service.RecentQueries(c.Request.Context(), email, limit)
	if err != nil {
		fail(c, h.logger, "Failed to load recent queries", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Recent queries", queries)
}

func (h *ClarifyHandler) HandleQuestionsForQuery(c *gin.Context) {
	id, ok := parseID(c, c.Query("query_id"), "query_id")
	if !ok {
		return
	}
	view, err := h.service.QuestionsForQuery(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, "Failed to load questions", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Questions", view)
}

func (h *ClarifyHandler) HandleSingleAnswer(c *gin.Context) {
	var req models.SingleAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	id, ok := parseID(c, req.QuestionID, "question_id")
	if !ok {
		return
	}

	result, err := h.service.AnswerQuestion(c.Request.Context(), id, req.Value)
	if err != nil {
		fail(c, h.logger, "Failed to record answer", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Answer recorded", result)
}

func (h *ClarifyHandler) HandleStart(c *gin.Context) {
	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	in := clarify.StartInput{
		OriginalQuery: req.OriginalQuery,
		MaxQuestions:  req.MaxQuestions,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if req.Context != nil {
		in.Domain = req.Context.Domain
		in.ProjectID = req.Context.ProjectID
		in.Defaults = req.Context.Defaults
	}

	view, err := h.service.Start(c.Request.Context(), in)
	if err != nil {
		fail(c, h.logger, "Failed to start clarification", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Clarification session ready", view)
}

func (h *ClarifyHandler) HandleAnswers(c *gin.Context) {
	var req models.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}

	inputs := make([]clarify.AnswerInput, 0, len(req.Answers))
	for _, a := range req.Answers {
		in := clarify.AnswerInput{Key: a.Key, Value: a.Value}
		if a.QuestionID != "" {
			id, ok := parseID(c, a.QuestionID, "questionId")
			if !ok {
				return
			}
			in.QuestionID = id
		}
		inputs = append(inputs, in)
	}

	result, err := h.service.SubmitAnswers(c.Request.Context(), sessionID, inputs)
	if err != nil {
		fail(c, h.logger, "Failed to record answers", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Answers recorded", result)
}

func (h *ClarifyHandler) HandleApprove(c *gin.Context) {
	var req models.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}

	view, err := h.service.Approve(c.Request.Context(), sessionID, req.Filters)
	if err != nil {
		fail(c, h.logger, "Failed to approve session", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Filters approved", view)
}

func (h *ClarifyHandler) HandleFinalize(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}

	result, err := h.service.Finalize(c.Request.Context(), sessionID)
	if err != nil {
		fail(c, h.logger, "Failed to finalize session", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session finalized", result)
}

func (h *ClarifyHandler) HandleRegenerate(c *gin.Context) {
	var req models.RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}

	result, err := h.service.Regenerate(c.Request.Context(), sessionID, req.Feedback)
	if err != nil {
		fail(c, h.logger, "Failed to regenerate thesis", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Thesis regenerated", result)
}

func (h *ClarifyHandler) HandleThesisFeedback(c *gin.Context) {
	var req models.ThesisFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}

	result, err := h.service.DecideThesis(c.Request.Context(), clarify.DecisionInput{
		SessionID:      sessionID,
		Version:        req.Version,
		Decision:       clarify.Decision(req.Decision),
		Reason:         req.Reason,
		ChangeRequests: req.ChangeRequests,
	})
	if err != nil {
		fail(c, h.logger, "Failed to record thesis decision", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Thesis decision recorded", result)
}

func (h *ClarifyHandler) sessionParam(c *gin.Context) (uuid.UUID, bool) {
	return parseID(c, c.Param("id"), "session id")
}

func (h *ClarifyHandler) HandleGetSession(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	view, err := h.service.GetSessionView(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, "Failed to load session", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session", view)
}

func (h *ClarifyHandler) HandleEvents(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	events, err := h.service.Events(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, "Failed to load events", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Events", events)
}

func (h *ClarifyHandler) HandleTheses(c *gin.Context) {
	id, ok := h.sessionParam(c)
	if !ok {
		return
	}
	theses, err := h.service.Theses(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, "Failed to load theses", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Theses", theses)
}

// HandleLLMEvents is a debug view of the provider calls behind a session.
func (h *ClarifyHandler) HandleLLMEvents(c *gin.Context) {
	id, ok := parseID(c, c.Query("session_id"), "session_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	events, err := h.service.LLMEvents(c.Request.Context(), id, limit)
	if err != nil {
		fail(c, h.logger, "Failed to load llm events", err)
		return
	}
	var latest interface{}
	if len(events) > 0 {
		latest = events[0]
	}
	utils.SuccessResponse(c, http.StatusOK, "LLM events", gin.H{
		"count":  len(events),
		"latest": latest,
		"events": events,
	})
}
