package api

import (
	"context"
	"errors"
	"net/http"
	"nexus/internal/apperr"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	providerCheckTimeout  = 10 * time.Second
	msgProviderUnhealthy  = "Image generation service is unreachable"
	providerHealthDisplay = "openai-compatible"
)

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ProviderHealth 通过 /v1/models 探测上游可达性
func (h *HTTPHandler) ProviderHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), providerCheckTimeout)
	defer cancel()

	models, err := h.provider.ListModels(ctx)
	if err != nil {
		logrus.WithError(err).Warn("provider health check failed")
		message := msgProviderUnhealthy
		var known *apperr.Error
		if errors.As(err, &known) && known.Message != "" {
			message = known.Message
		}
		fail(c, apperr.Unavailable(message, err).WithStatus(http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"provider": providerHealthDisplay,
		"models":   models,
	}})
}
