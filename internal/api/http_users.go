package api

import (
	"context"
	"errors"
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/auth"
	"nexus/internal/entity"
	"nexus/internal/validate"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	msgUserExists          = "User already exists with that email or username"
	msgMissingCredentials  = "Please provide email and password"
	msgInvalidCredentials  = "Invalid credentials"
	msgWrongPassword       = "Current password is incorrect"
	msgUnsupportedModel    = "Unsupported model"
	msgUnsupportedSize     = "Unsupported size"
	defaultUsersPageSize   = 20
	maxUsersPageSize       = 100
	userRepositoryDeadline = 5 * time.Second
)

func (h *HTTPHandler) requireRepo() error {
	if h.repo == nil {
		return apperr.Unavailable(msgPersistenceDisabled, nil).WithStatus(http.StatusServiceUnavailable)
	}
	return nil
}

func validationError(res validate.Result) error {
	_, message := res.First()
	return apperr.Validation(message, res.Errors)
}

func (h *HTTPHandler) Register(c *gin.Context) {
	if err := h.requireRepo(); err != nil {
		fail(c, err)
		return
	}

	var req entity.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	if res := validate.User(validate.UserParams{Username: &req.Username, Email: &req.Email, Password: &req.Password}); !res.IsValid() {
		fail(c, validationError(res))
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	if err := h.ensureUnique(ctx, email, username, 0); err != nil {
		fail(c, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, apperr.Internal("", err))
		return
	}

	user := &entity.DbUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         entity.UserRoleUser,
	}
	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			fail(c, apperr.Validation(msgUserExists, nil))
			return
		}
		fail(c, apperr.Internal("", err))
		return
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")

	resp, err := h.authResponse(user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": resp})
}

func (h *HTTPHandler) Login(c *gin.Context) {
	if err := h.requireRepo(); err != nil {
		fail(c, err)
		return
	}

	var req entity.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		fail(c, apperr.Validation(msgMissingCredentials, nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	user, err := h.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperr.Auth(msgInvalidCredentials))
			return
		}
		fail(c, apperr.Internal("", err))
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		fail(c, apperr.Auth(msgInvalidCredentials))
		return
	}

	resp, err := h.authResponse(user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (h *HTTPHandler) GetProfile(c *gin.Context) {
	user, err := h.loadCurrentUser(c)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": user})
}

// UpdateProfile 局部更新，只校验请求中出现的字段
func (h *HTTPHandler) UpdateProfile(c *gin.Context) {
	current := CurrentUser(c)

	var req entity.ProfileUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	if res := validate.User(validate.UserParams{Username: req.Username, Email: req.Email, Password: req.Password}); !res.IsValid() {
		fail(c, validationError(res))
		return
	}

	var updates entity.UserUpdates
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		updates.Username = &username
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		updates.Email = &email
	}
	if req.PreferredModel != nil {
		model := strings.TrimSpace(*req.PreferredModel)
		if model != "" && !h.cfg.SupportsModel(model) {
			fail(c, apperr.Validation(msgUnsupportedModel, map[string]string{"preferredModel": msgUnsupportedModel}))
			return
		}
		updates.PreferredModel = &model
	}
	if req.PreferredSize != nil {
		size := strings.TrimSpace(*req.PreferredSize)
		if size != "" && !h.cfg.SupportsSize(size) {
			fail(c, apperr.Validation(msgUnsupportedSize, map[string]string{"preferredSize": msgUnsupportedSize}))
			return
		}
		updates.PreferredSize = &size
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	if updates.Username != nil || updates.Email != nil {
		if err := h.ensureUnique(ctx, deref(updates.Email), deref(updates.Username), current.ID); err != nil {
			fail(c, err)
			return
		}
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			fail(c, apperr.Internal("", err))
			return
		}
		updates.PasswordHash = &hash
	}

	if !updates.IsEmpty() {
		if err := h.repo.UpdateUser(ctx, current.ID, updates); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				fail(c, apperr.Validation(msgUserExists, nil))
				return
			}
			fail(c, apperr.Internal("", err))
			return
		}
	}

	user, err := h.repo.GetUserByID(ctx, current.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": user})
}

// DeleteProfile 删除当前用户、其全部图片记录以及转存的对象
func (h *HTTPHandler) DeleteProfile(c *gin.Context) {
	current := CurrentUser(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	if err := h.imageService.DeleteUserWithImages(ctx, current.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperr.NotFound(msgUserNotFound))
			return
		}
		fail(c, apperr.Internal("", err))
		return
	}

	logrus.WithField("user_id", current.ID).Info("user deleted")
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{}})
}

func (h *HTTPHandler) ChangePassword(c *gin.Context) {
	var req entity.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	if res := validate.User(validate.UserParams{Password: &req.NewPassword}); !res.IsValid() {
		fail(c, validationError(res))
		return
	}

	user, err := h.loadCurrentUser(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		fail(c, apperr.Auth(msgWrongPassword))
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		fail(c, apperr.Internal("", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	if err := h.repo.UpdateUser(ctx, user.ID, entity.UserUpdates{PasswordHash: &hash}); err != nil {
		fail(c, apperr.Internal("", err))
		return
	}

	resp, err := h.authResponse(user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (h *HTTPHandler) ListUsers(c *gin.Context) {
	var query entity.UserQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		fail(c, invalidPayload(err))
		return
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = defaultUsersPageSize
	}
	if query.PageSize > maxUsersPageSize {
		query.PageSize = maxUsersPageSize
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	users, meta, err := h.repo.ListUsers(ctx, &query)
	if err != nil {
		fail(c, apperr.Internal("", err))
		return
	}
	if users == nil {
		users = []entity.DbUser{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entity.UserListResponse{Users: users, Meta: meta}})
}

func (h *HTTPHandler) loadCurrentUser(c *gin.Context) (*entity.DbUser, error) {
	current := CurrentUser(c)
	if current == nil {
		return nil, apperr.Auth(msgNotAuthorized)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), userRepositoryDeadline)
	defer cancel()

	user, err := h.repo.GetUserByID(ctx, current.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(msgUserNotFound)
		}
		return nil, apperr.Internal("", err)
	}
	return user, nil
}

func (h *HTTPHandler) ensureUnique(ctx context.Context, email, username string, excludeID uint) error {
	_, err := h.repo.FindUserConflict(ctx, email, username, excludeID)
	switch {
	case err == nil:
		return apperr.Validation(msgUserExists, nil)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	default:
		return apperr.Internal("", err)
	}
}

func (h *HTTPHandler) authResponse(user *entity.DbUser) (*entity.AuthResponse, error) {
	token, expiresAt, err := h.authManager.GenerateToken(user)
	if err != nil {
		return nil, apperr.Internal("", err)
	}
	return &entity.AuthResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
