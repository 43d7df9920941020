package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"nexus/internal/apperr"
	"nexus/internal/auth"
	"nexus/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	currentUserContextKey = "current-user"

	msgNotAuthorized = "Not authorized to access this route"
	msgTokenExpired  = "Token expired"
	msgUserNotFound  = "User not found"
)

// RequestUser 存储请求上下文中的认证用户信息
type RequestUser struct {
	ID       uint
	Username string
	Email    string
	Role     string
}

// IsAdmin 判断用户是否具有管理员权限
func (u *RequestUser) IsAdmin() bool {
	return u != nil && u.Role == entity.UserRoleAdmin
}

// AuthMiddleware JWT 认证中间件，缺少或无效的 token 一律 401
func (h *HTTPHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.authenticate(c)
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(currentUserContextKey, user)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present. Missing or
// invalid tokens leave the request anonymous.
func (h *HTTPHandler) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearerToken(c) == "" {
			c.Next()
			return
		}
		user, err := h.authenticate(c)
		if err != nil {
			logrus.WithError(err).Debug("optional auth: treating request as anonymous")
			c.Next()
			return
		}
		c.Set(currentUserContextKey, user)
		c.Next()
	}
}

// Authorize 角色守卫，必须在 AuthMiddleware 之后使用
func (h *HTTPHandler) Authorize(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			fail(c, apperr.Auth(msgNotAuthorized))
			return
		}
		if !slices.Contains(roles, user.Role) {
			fail(c, apperr.Forbidden("User role "+user.Role+" is not authorized to access this route"))
			return
		}
		c.Next()
	}
}

func (h *HTTPHandler) authenticate(c *gin.Context) (*RequestUser, error) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		return nil, apperr.Auth(msgNotAuthorized)
	}

	claims, err := h.authManager.ParseToken(tokenString)
	if err != nil {
		logrus.WithError(err).Warn("failed to parse jwt token")
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperr.Auth(msgTokenExpired)
		}
		return nil, apperr.Auth(msgNotAuthorized)
	}

	if h.repo == nil {
		return nil, apperr.Unavailable(msgPersistenceDisabled, nil).WithStatus(http.StatusServiceUnavailable)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	user, err := h.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Auth(msgUserNotFound)
		}
		return nil, apperr.Internal("", err)
	}

	return &RequestUser{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}, nil
}

func bearerToken(c *gin.Context) string {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// CurrentUser 从上下文获取当前认证用户
func CurrentUser(c *gin.Context) *RequestUser {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*RequestUser)
	if !ok {
		return nil
	}
	return user
}

// callerID returns 0 for anonymous requests.
func callerID(c *gin.Context) uint {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return 0
}
