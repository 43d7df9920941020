package api

import (
	"errors"
	"fmt"
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	msgResourceNotFound = "Resource not found"
	msgDuplicateValue   = "Duplicate value entered"
	msgInvalidPayload   = "Invalid request payload"
)

// ErrorBody 统一的错误响应结构
type ErrorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	Stack   string            `json:"stack,omitempty"`
}

// fail records err for ErrorHandler and stops the chain. Handlers never write
// error JSON themselves.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler turns the last error recorded on the context into the error
// envelope. It must be registered before the routes.
func ErrorHandler(cfg config.Config) gin.HandlerFunc {
	development := cfg.IsDevelopment()
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := normalizeError(c.Errors.Last().Err)
		entry := logrus.WithFields(logrus.Fields{
			"status": appErr.Status,
			"kind":   appErr.Kind,
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		if requestID := c.GetString(requestIDKey); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		if appErr.Err != nil {
			entry = entry.WithError(appErr.Err)
		}
		if appErr.Status >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		c.JSON(appErr.Status, errorBody(appErr, development))
	}
}

// Recovery converts panics into the same envelope as handled errors.
func Recovery(cfg config.Config) gin.HandlerFunc {
	development := cfg.IsDevelopment()
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		appErr := apperr.Internal("", fmt.Errorf("panic: %v", recovered))
		logrus.WithField("path", c.Request.URL.Path).WithError(appErr.Err).Error("recovered from panic")
		c.AbortWithStatusJSON(appErr.Status, errorBody(appErr, development))
	})
}

// normalizeError 将存储层的已知错误映射到统一分类
func normalizeError(err error) *apperr.Error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e := apperr.NotFound(msgResourceNotFound)
		e.Err = err
		return e
	case errors.Is(err, gorm.ErrDuplicatedKey):
		e := apperr.Validation(msgDuplicateValue, nil)
		e.Err = err
		return e
	}
	return apperr.From(err)
}

func errorBody(appErr *apperr.Error, development bool) ErrorBody {
	body := ErrorBody{
		Success: false,
		Error:   appErr.Message,
		Fields:  appErr.Fields,
	}
	if body.Error == "" {
		body.Error = http.StatusText(appErr.Status)
	}
	if development {
		body.Stack = appErr.Stack()
	}
	return body
}

// invalidPayload wraps a binding failure.
func invalidPayload(err error) *apperr.Error {
	e := apperr.Validation(msgInvalidPayload, nil)
	e.Err = err
	return e
}
