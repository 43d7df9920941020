package sql

import (
	"context"
	"fmt"
	"nexus/internal/entity"
	"strings"

	"gorm.io/gorm"
)

// CreateImage persists a generation result.
func (r *GormRepository) CreateImage(ctx context.Context, image *entity.DbImage) error {
	if err := r.ready(); err != nil {
		return err
	}
	if image == nil {
		return fmt.Errorf("image is nil")
	}
	if image.UserID == 0 {
		return fmt.Errorf("image owner is required")
	}
	image.ImageCount = len(image.URLs)
	if image.Tags == nil {
		image.Tags = entity.StringArray{}
	}
	return r.db.WithContext(ctx).Create(image).Error
}

// GetImage loads an image record by ID.
func (r *GormRepository) GetImage(ctx context.Context, id uint) (*entity.DbImage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	var image entity.DbImage
	if err := r.db.WithContext(ctx).First(&image, id).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

// UpdateImage applies the mutable fields of an image record.
func (r *GormRepository) UpdateImage(ctx context.Context, id uint, updates entity.ImageUpdates) error {
	if err := r.ready(); err != nil {
		return err
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbImage{}).Where("id = ?", id).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteImage removes an image record.
func (r *GormRepository) DeleteImage(ctx context.Context, id uint) error {
	if err := r.ready(); err != nil {
		return err
	}
	if id == 0 {
		return gorm.ErrRecordNotFound
	}
	result := r.db.WithContext(ctx).Delete(&entity.DbImage{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListImages returns the images of params.UserID, optionally filtered by
// favorite flag and prompt substring.
func (r *GormRepository) ListImages(ctx context.Context, params *entity.ImageQuery) ([]entity.DbImage, *entity.Meta, error) {
	if err := r.ready(); err != nil {
		return nil, nil, err
	}
	if params == nil || params.UserID == 0 {
		return nil, nil, fmt.Errorf("image query requires an owner")
	}

	query := r.db.WithContext(ctx).Model(&entity.DbImage{}).Where("user_id = ?", params.UserID)
	if params.FavoritesOnly {
		query = query.Where("is_favorite = ?", true)
	}
	if text := strings.TrimSpace(params.Search); text != "" {
		query = query.Where("LOWER(prompt) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(text))+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	direction := "ASC"
	if params.SortDesc {
		direction = "DESC"
	}
	order := fmt.Sprintf("%s %s, id %s", params.SortColumn(), direction, direction)

	page, pageSize := normalizePage(params.BaseParams)
	var images []entity.DbImage
	if err := query.Order(order).Offset((page - 1) * pageSize).Limit(pageSize).Find(&images).Error; err != nil {
		return nil, nil, err
	}

	return images, r.calculatePagination(total, page, pageSize), nil
}

type imageTotals struct {
	TotalPrompts  int64
	TotalImages   int64
	FavoriteCount int64
}

type modelCount struct {
	Model string
	Count int64
}

// ImageStats aggregates a user's image records.
func (r *GormRepository) ImageStats(ctx context.Context, userID uint) (*entity.ImageStats, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, fmt.Errorf("stats require an owner")
	}

	base := r.db.WithContext(ctx).Model(&entity.DbImage{}).Where("user_id = ?", userID)

	var totals imageTotals
	if err := base.Session(&gorm.Session{}).
		Select("COUNT(*) AS total_prompts, COALESCE(SUM(image_count), 0) AS total_images, " +
			"COALESCE(SUM(CASE WHEN is_favorite THEN 1 ELSE 0 END), 0) AS favorite_count").
		Scan(&totals).Error; err != nil {
		return nil, err
	}

	var counts []modelCount
	if err := base.Session(&gorm.Session{}).
		Select("model, COUNT(*) AS count").
		Group("model").
		Scan(&counts).Error; err != nil {
		return nil, err
	}

	stats := &entity.ImageStats{
		TotalImages:       totals.TotalImages,
		TotalPrompts:      totals.TotalPrompts,
		FavoriteCount:     totals.FavoriteCount,
		ModelDistribution: make(map[string]int64, len(counts)),
	}
	for _, c := range counts {
		stats.ModelDistribution[c.Model] = c.Count
	}
	return stats, nil
}

// escapeLike escapes LIKE wildcards using '!' as the escape character, which
// every supported dialect accepts in an ESCAPE clause.
func escapeLike(value string) string {
	replacer := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return replacer.Replace(value)
}
