package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"nexus/internal/apperr"
	"nexus/internal/config"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func newErrorEngine(cfg config.Config, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(cfg), ErrorHandler(cfg))
	r.GET("/test", handler)
	return r
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestErrorHandlerEnvelope(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvProduction

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:           "参数错误",
			err:            apperr.Validation("Prompt is required", map[string]string{"prompt": "Prompt is required"}),
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "Prompt is required",
		},
		{
			name:           "未认证",
			err:            apperr.Auth("Not authorized to access this route"),
			expectedStatus: http.StatusUnauthorized,
			expectedMsg:    "Not authorized to access this route",
		},
		{
			name:           "本地限流",
			err:            apperr.RateLimit("Too many requests"),
			expectedStatus: http.StatusTooManyRequests,
			expectedMsg:    "Too many requests",
		},
		{
			name:           "上游状态透传",
			err:            apperr.Upstream(http.StatusBadRequest, "prompt rejected", nil),
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "prompt rejected",
		},
		{
			name:           "记录不存在",
			err:            fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound),
			expectedStatus: http.StatusNotFound,
			expectedMsg:    msgResourceNotFound,
		},
		{
			name:           "唯一键冲突",
			err:            gorm.ErrDuplicatedKey,
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    msgDuplicateValue,
		},
		{
			name:           "未知错误",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newErrorEngine(cfg, func(c *gin.Context) { fail(c, tt.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			body := decodeErrorBody(t, w)
			if body.Success {
				t.Errorf("expected success=false")
			}
			if body.Error != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, body.Error)
			}
			if body.Stack != "" {
				t.Errorf("stack must not leak outside development")
			}
		})
	}
}

func TestErrorHandlerFieldsAndDevelopmentStack(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvDevelopment

	r := newErrorEngine(cfg, func(c *gin.Context) {
		fail(c, apperr.Validation("Size must be one of: 1024x1024", map[string]string{"size": "Size must be one of: 1024x1024"}))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	body := decodeErrorBody(t, w)
	if body.Fields["size"] == "" {
		t.Errorf("expected field errors, got %+v", body.Fields)
	}
	if body.Stack == "" {
		t.Errorf("expected stack in development")
	}
}

func TestErrorHandlerLeavesWrittenResponses(t *testing.T) {
	cfg := config.Default()
	r := newErrorEngine(cfg, func(c *gin.Context) {
		_ = c.Error(errors.New("logged only"))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRecoveryUsesEnvelope(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvProduction

	r := newErrorEngine(cfg, func(c *gin.Context) { panic("kaboom") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeErrorBody(t, w)
	if body.Error != "Server Error" {
		t.Errorf("expected generic message, got %q", body.Error)
	}
}
