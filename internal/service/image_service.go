package service

import (
	"context"
	"errors"
	"net/http"
	"nexus/internal/apperr"
	"nexus/internal/entity"
	"nexus/internal/entity/common"
	"nexus/internal/model"
	"nexus/internal/storage"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// HistoryLimit caps the history endpoint.
	HistoryLimit = 50
	// SearchLimit caps the search endpoint.
	SearchLimit = 20
)

// Action names the operation in ownership failures.
type Action string

const (
	ActionAccess Action = "access"
	ActionDelete Action = "delete"
	ActionModify Action = "modify"
)

const msgImageNotFound = "Image not found"

const msgPersistenceDisabled = "Image history is not available: persistence is disabled"

// ImageService 处理已持久化图片的查询与归属校验
type ImageService struct {
	repo    model.Repository
	storage storage.Storage
}

func NewImageService(repo model.Repository, store storage.Storage) *ImageService {
	return &ImageService{repo: repo, storage: store}
}

func (s *ImageService) ready() error {
	if s == nil || s.repo == nil {
		return apperr.Unavailable(msgPersistenceDisabled, nil).WithStatus(http.StatusServiceUnavailable)
	}
	return nil
}

// History returns the caller's newest images first, at most HistoryLimit.
func (s *ImageService) History(ctx context.Context, userID uint) ([]entity.DbImage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	images, _, err := s.repo.ListImages(ctx, &entity.ImageQuery{
		UserID:     userID,
		BaseParams: entity.BaseParams{Page: 1, PageSize: HistoryLimit, SortBy: "createdAt", SortDesc: true},
	})
	return images, err
}

// List 分页列出调用者的图片，UserID 始终以调用者为准
func (s *ImageService) List(ctx context.Context, userID uint, query entity.ImageQuery) ([]entity.DbImage, *entity.Meta, error) {
	if err := s.ready(); err != nil {
		return nil, nil, err
	}
	query.UserID = userID
	if strings.TrimSpace(query.SortBy) == "" {
		query.SortBy = "createdAt"
		query.SortDesc = true
	}
	return s.repo.ListImages(ctx, &query)
}

// Search matches prompts case-insensitively, newest first.
func (s *ImageService) Search(ctx context.Context, userID uint, text string, page, pageSize int64) ([]entity.DbImage, *entity.Meta, error) {
	if err := s.ready(); err != nil {
		return nil, nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, apperr.Validation("Search query is required", map[string]string{"q": "Search query is required"})
	}
	if pageSize <= 0 {
		pageSize = SearchLimit
	}
	return s.repo.ListImages(ctx, &entity.ImageQuery{
		UserID:     userID,
		Search:     text,
		BaseParams: entity.BaseParams{Page: page, PageSize: pageSize, SortBy: "createdAt", SortDesc: true},
	})
}

func (s *ImageService) Stats(ctx context.Context, userID uint) (*entity.ImageStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.repo.ImageStats(ctx, userID)
}

// GetOwnedImage loads an image and checks it belongs to userID. A missing
// record is 404; a record owned by someone else is 403.
func (s *ImageService) GetOwnedImage(ctx context.Context, userID, imageID uint, action Action) (*entity.DbImage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if imageID == 0 {
		return nil, apperr.NotFound(msgImageNotFound)
	}
	image, err := s.repo.GetImage(ctx, imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(msgImageNotFound)
		}
		return nil, err
	}
	if image.UserID != userID {
		return nil, apperr.Forbidden("Not authorized to " + string(action) + " this image")
	}
	return image, nil
}

// DeleteImage removes the record and any mirrored objects. Storage cleanup
// failures are logged only.
func (s *ImageService) DeleteImage(ctx context.Context, userID, imageID uint) error {
	image, err := s.GetOwnedImage(ctx, userID, imageID, ActionDelete)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteImage(ctx, image.ID); err != nil {
		return err
	}

	if s.storage == nil {
		return nil
	}
	keys := image.StoredPaths.ToSlice()
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"image_id": image.ID,
				"key":      key,
			}).Warn("failed to delete mirrored image")
		}
	}
	// 原图按内容寻址，可能被其他记录共享，保留
	return nil
}

// DeleteUserWithImages 删除用户及其全部图片记录，再清理这些记录转存过的对象。
// 对象键在删除前收集，删除用户失败时存储保持不变。
func (s *ImageService) DeleteUserWithImages(ctx context.Context, userID uint) error {
	if err := s.ready(); err != nil {
		return err
	}

	var keys []string
	if s.storage != nil {
		collected, err := s.storedKeysOf(ctx, userID)
		if err != nil {
			return err
		}
		keys = collected
	}

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}

	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"user_id": userID,
				"key":     key,
			}).Warn("failed to delete mirrored image")
		}
	}
	return nil
}

func (s *ImageService) storedKeysOf(ctx context.Context, userID uint) ([]string, error) {
	const pageSize = 100
	var (
		keys []string
		seen int64
	)
	for page := int64(1); ; page++ {
		images, meta, err := s.repo.ListImages(ctx, &entity.ImageQuery{
			UserID:     userID,
			BaseParams: entity.BaseParams{Page: page, PageSize: pageSize, SortBy: "createdAt"},
		})
		if err != nil {
			return nil, err
		}
		for _, image := range images {
			keys = append(keys, image.StoredPaths.ToSlice()...)
		}
		seen += int64(len(images))
		if len(images) < pageSize || meta == nil || seen >= meta.Total {
			return keys, nil
		}
	}
}

// ToggleFavorite flips isFavorite and returns the updated record.
func (s *ImageService) ToggleFavorite(ctx context.Context, userID, imageID uint) (*entity.DbImage, error) {
	image, err := s.GetOwnedImage(ctx, userID, imageID, ActionModify)
	if err != nil {
		return nil, err
	}
	favorite := !image.IsFavorite
	if err := s.repo.UpdateImage(ctx, image.ID, entity.ImageUpdates{IsFavorite: &favorite}); err != nil {
		return nil, err
	}
	image.IsFavorite = favorite
	return image, nil
}

func (s *ImageService) AddTag(ctx context.Context, userID, imageID uint, tag string) (*entity.DbImage, error) {
	if common.NormalizeTag(tag) == "" {
		return nil, apperr.Validation("Tag is required", map[string]string{"tag": "Tag is required"})
	}
	image, err := s.GetOwnedImage(ctx, userID, imageID, ActionModify)
	if err != nil {
		return nil, err
	}
	if !image.AddTag(tag) {
		return image, nil
	}
	tags := image.Tags
	if err := s.repo.UpdateImage(ctx, image.ID, entity.ImageUpdates{Tags: &tags}); err != nil {
		return nil, err
	}
	return image, nil
}

func (s *ImageService) RemoveTag(ctx context.Context, userID, imageID uint, tag string) (*entity.DbImage, error) {
	image, err := s.GetOwnedImage(ctx, userID, imageID, ActionModify)
	if err != nil {
		return nil, err
	}
	if !image.RemoveTag(tag) {
		return image, nil
	}
	tags := image.Tags
	if err := s.repo.UpdateImage(ctx, image.ID, entity.ImageUpdates{Tags: &tags}); err != nil {
		return nil, err
	}
	return image, nil
}
