package entity

import (
	"strings"
	"time"

	"nexus/internal/entity/common"
)

// DbImage 一次生成或编辑的结果记录，归属单个用户
type DbImage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	UserID uint `gorm:"column:user_id;index;not null" json:"user"`

	Prompt     string      `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Model      string      `gorm:"column:model;type:varchar(32);index;not null" json:"model"`
	Size       string      `gorm:"column:size;type:varchar(32);not null" json:"size"`
	URLs       StringArray `gorm:"column:urls;type:json" json:"urls"`
	ImageCount int         `gorm:"column:image_count;not null;default:0" json:"-"`
	Created    int64       `gorm:"column:created" json:"created"`
	IsEdit     bool        `gorm:"column:is_edit;not null;default:false" json:"isEdit"`
	IsFavorite bool        `gorm:"column:is_favorite;index;not null;default:false" json:"isFavorite"`
	Tags       StringArray `gorm:"column:tags;type:json" json:"tags"`

	StoredPaths     StringArray `gorm:"column:stored_paths;type:json" json:"-"`
	SourceImagePath string      `gorm:"column:source_image_path;type:varchar(512)" json:"-"`
	StoredURLs      []string    `gorm:"-" json:"storedUrls,omitempty"`
}

func (DbImage) TableName() string {
	return "images"
}

// AddTag 以集合语义添加标签，返回是否发生变化
func (i *DbImage) AddTag(tag string) bool {
	tag = common.NormalizeTag(tag)
	if tag == "" || i.Tags.Contains(tag) {
		return false
	}
	i.Tags = i.Tags.WithItem(tag)
	return true
}

// RemoveTag 移除标签，返回是否发生变化
func (i *DbImage) RemoveTag(tag string) bool {
	tag = common.NormalizeTag(tag)
	if !i.Tags.Contains(tag) {
		return false
	}
	i.Tags = i.Tags.WithoutItem(tag)
	return true
}

// ImageQuery 列表/历史/搜索共用的查询参数；UserID 始终由服务端填充
type ImageQuery struct {
	BaseParams
	UserID        uint   `json:"-" form:"-" query:"-"`
	FavoritesOnly bool   `json:"favorites" form:"favorites" query:"favorites"`
	Search        string `json:"q" form:"q" query:"q"`
}

// ImageSortColumns maps API sort keys to columns.
var ImageSortColumns = map[string]string{
	"createdAt":  "created_at",
	"created_at": "created_at",
	"model":      "model",
	"size":       "size",
	"prompt":     "prompt",
	"isFavorite": "is_favorite",
}

// SortColumn resolves SortBy against ImageSortColumns, falling back to created_at.
func (q ImageQuery) SortColumn() string {
	if col, ok := ImageSortColumns[strings.TrimSpace(q.SortBy)]; ok {
		return col
	}
	return "created_at"
}

type ImageStats struct {
	TotalImages       int64            `json:"totalImages"`
	TotalPrompts      int64            `json:"totalPrompts"`
	FavoriteCount     int64            `json:"favoriteCount"`
	ModelDistribution map[string]int64 `json:"modelDistribution"`
}

type AddTagRequest struct {
	Tag string `json:"tag"`
}
