package handlers

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/internal/models"
	"github.com/Ayash-Bera/intake/internal/stream"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type StreamHandler struct {
	service   *clarify.Service
	presenter *stream.Presenter
	logger    *logrus.Logger
}

func NewStreamHandler(service *clarify.Service, presenter *stream.Presenter, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{service: service, presenter: presenter, logger: logger}
}

// HandleCreate returns the SSE url for an existing session, or creates a
// standalone session for the query first.
func (h *StreamHandler) HandleCreate(c *gin.Context) {
	var req models.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	mode, err := stream.ParseMode(req.Mode)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid mode", err)
		return
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		id, ok := parseID(c, req.SessionID, "sessionId")
		if !ok {
			return
		}
		if _, err := h.service.GetSessionView(c.Request.Context(), id); err != nil {
			fail(c, h.logger, "Failed to load session", err)
			return
		}
		sessionID = id
	} else {
		sess, err := h.service.CreateStandalone(c.Request.Context(), req.UserQuery)
		if err != nil {
			fail(c, h.logger, "Failed to create session", err)
			return
		}
		sessionID = sess.ID
	}

	q := url.Values{}
	q.Set("sessionId", sessionID.String())
	q.Set("mode", string(mode))
	utils.SuccessResponse(c, http.StatusOK, "Stream ready", models.StreamResponse{
		SessionID: sessionID.String(),
		SSEURL:    "/api/research/stream?" + q.Encode(),
	})
}

// HandleStream holds the connection open while the pipeline runs.
func (h *StreamHandler) HandleStream(c *gin.Context) {
	sessionID, ok := parseID(c, c.Query("sessionId"), "sessionId")
	if !ok {
		return
	}
	mode, err := stream.ParseMode(c.Query("mode"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid mode", err)
		return
	}
	version := 1
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			utils.ErrorResponse(c, http.StatusBadRequest, "version must be a positive integer", err)
			return
		}
		version = v
	}
	if _, err := h.service.GetSessionView(c.Request.Context(), sessionID); err != nil {
		fail(c, h.logger, "Failed to load session", err)
		return
	}

	sink := stream.NewSSESink(c.Writer)
	c.Status(http.StatusOK)
	err = h.presenter.Run(c.Request.Context(), stream.RunRequest{
		SessionID: sessionID,
		Mode:      mode,
		Version:   version,
	}, sink)
	if err != nil {
		// Headers are already sent; the client got an error frame.
		h.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"request_id": c.GetString(utils.RequestIDKey),
		}).Warn("Stream ended with error")
	}
}

func (h *StreamHandler) HandleResume(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	sessionID, ok := parseID(c, req.SessionID, "sessionId")
	if !ok {
		return
	}
	event, err := h.service.LastEvent(c.Request.Context(), sessionID)
	if err != nil {
		fail(c, h.logger, "Failed to load last event", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Last event", event)
}
