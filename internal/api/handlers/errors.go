package handlers

import (
	"errors"
	"net/http"

	"github.com/Ayash-Bera/intake/internal/clarify"
	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, clarify.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, clarify.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, clarify.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error envelope for a protocol error. Server-side failures
// are logged with the request id.
func fail(c *gin.Context, logger *logrus.Logger, message string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString(utils.RequestIDKey),
			"path":       c.FullPath(),
		}).Error(message)
	}
	utils.ErrorResponse(c, code, message, err)
}

func parseID(c *gin.Context, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid "+field, err)
		return uuid.Nil, false
	}
	return id, true
}
