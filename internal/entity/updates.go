package entity

// UserUpdates 用户更新字段
type UserUpdates struct {
	Username       *string
	Email          *string
	PasswordHash   *string
	Role           *string
	PreferredModel *string
	PreferredSize  *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u UserUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Username != nil {
		updates["username"] = *u.Username
	}
	if u.Email != nil {
		updates["email"] = *u.Email
	}
	if u.PasswordHash != nil {
		updates["password_hash"] = *u.PasswordHash
	}
	if u.Role != nil {
		updates["role"] = *u.Role
	}
	if u.PreferredModel != nil {
		updates["preferred_model"] = *u.PreferredModel
	}
	if u.PreferredSize != nil {
		updates["preferred_size"] = *u.PreferredSize
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u UserUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// ImageUpdates 图片记录可变字段
type ImageUpdates struct {
	IsFavorite      *bool
	Tags            *StringArray
	StoredPaths     *StringArray
	SourceImagePath *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u ImageUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.IsFavorite != nil {
		updates["is_favorite"] = *u.IsFavorite
	}
	if u.Tags != nil {
		updates["tags"] = *u.Tags
	}
	if u.StoredPaths != nil {
		updates["stored_paths"] = *u.StoredPaths
	}
	if u.SourceImagePath != nil {
		updates["source_image_path"] = *u.SourceImagePath
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u ImageUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
