package sql

import (
	"context"
	"fmt"
	"nexus/internal/entity"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CreateUser persists a new user record.
func (r *GormRepository) CreateUser(ctx context.Context, user *entity.DbUser) error {
	if err := r.ready(); err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user is nil")
	}
	return r.db.WithContext(ctx).Create(user).Error
}

// UpdateUser updates an existing user entry.
func (r *GormRepository) UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error {
	if err := r.ready(); err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("invalid user")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetUserByEmail loads a user by email.
func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, fmt.Errorf("email is empty")
	}

	var user entity.DbUser
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(trimmed)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID loads a user by ID.
func (r *GormRepository) GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var user entity.DbUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserConflict returns a user other than excludeID that already owns the
// email or username. Empty values are ignored.
func (r *GormRepository) FindUserConflict(ctx context.Context, email, username string, excludeID uint) (*entity.DbUser, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" && username == "" {
		return nil, gorm.ErrRecordNotFound
	}

	conds := r.db.WithContext(ctx)
	switch {
	case email != "" && username != "":
		conds = conds.Where("LOWER(email) = ? OR username = ?", email, username)
	case email != "":
		conds = conds.Where("LOWER(email) = ?", email)
	default:
		conds = conds.Where("username = ?", username)
	}

	query := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where(conds)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}

	var user entity.DbUser
	if err := query.First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns paginated users.
func (r *GormRepository) ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error) {
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	if params == nil {
		params = &entity.UserQuery{}
	}

	query := r.db.WithContext(ctx).Model(&entity.DbUser{})
	if trimmed := strings.TrimSpace(params.Role); trimmed != "" {
		query = query.Where("role = ?", trimmed)
	}
	if keyword := strings.TrimSpace(params.Keyword); keyword != "" {
		kw := "%" + escapeLike(strings.ToLower(keyword)) + "%"
		query = query.Where("LOWER(email) LIKE ? ESCAPE '!' OR LOWER(username) LIKE ? ESCAPE '!'", kw, kw)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page, pageSize := normalizePage(params.BaseParams)
	var users []entity.DbUser
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		return nil, nil, err
	}

	return users, r.calculatePagination(total, page, pageSize), nil
}

// DeleteUser removes a user and every image record they own.
func (r *GormRepository) DeleteUser(ctx context.Context, id uint) error {
	if err := r.ready(); err != nil {
		return err
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&entity.DbImage{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&entity.DbUser{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// RecordGeneration bumps the generate counter and last generation time.
func (r *GormRepository) RecordGeneration(ctx context.Context, userID uint, at time.Time) error {
	if err := r.ready(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&entity.DbUser{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"generate_count":    gorm.Expr("generate_count + ?", 1),
		"last_generated_at": at,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
