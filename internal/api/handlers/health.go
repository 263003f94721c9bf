package handlers

import (
	"net/http"

	"github.com/Ayash-Bera/intake/internal/health"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker *health.HealthChecker
}

func NewHealthHandler(checker *health.HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) HandleHealth(c *gin.Context) {
	result := h.checker.Cached(c.Request.Context())
	code := http.StatusOK
	if result.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}
