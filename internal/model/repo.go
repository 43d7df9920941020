package model

import (
	"context"
	"nexus/internal/entity"
	"time"
)

// Repository 定义数据库操作接口
type Repository interface {
	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	// FindUserConflict 查找与 email 或 username 冲突的用户（排除 excludeID），不存在时返回 gorm.ErrRecordNotFound
	FindUserConflict(ctx context.Context, email, username string, excludeID uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	// DeleteUser 删除用户及其全部图片记录
	DeleteUser(ctx context.Context, id uint) error
	RecordGeneration(ctx context.Context, userID uint, at time.Time) error

	// 图片记录
	CreateImage(ctx context.Context, image *entity.DbImage) error
	GetImage(ctx context.Context, id uint) (*entity.DbImage, error)
	UpdateImage(ctx context.Context, id uint, updates entity.ImageUpdates) error
	DeleteImage(ctx context.Context, id uint) error
	ListImages(ctx context.Context, params *entity.ImageQuery) ([]entity.DbImage, *entity.Meta, error)
	ImageStats(ctx context.Context, userID uint) (*entity.ImageStats, error)
}
