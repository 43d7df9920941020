package entity

import "time"

const (
	UserRoleAdmin = "admin"
	UserRoleUser  = "user"
)

// DbUser represents a persisted user account.
type DbUser struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Username        string     `gorm:"column:username;type:varchar(20);uniqueIndex;not null" json:"username"`
	Email           string     `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash    string     `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Role            string     `gorm:"column:role;type:varchar(20);index;not null;default:user" json:"role"`
	PreferredModel  string     `gorm:"column:preferred_model;type:varchar(32)" json:"preferredModel"`
	PreferredSize   string     `gorm:"column:preferred_size;type:varchar(32)" json:"preferredSize"`
	GenerateCount   int64      `gorm:"column:generate_count;not null;default:0" json:"generateCount"`
	LastGeneratedAt *time.Time `gorm:"column:last_generated_at" json:"lastGeneratedAt"`
}

// TableName overrides default pluralised name.
func (DbUser) TableName() string {
	return "users"
}

// UserQuery supports listing users with pagination.
type UserQuery struct {
	BaseParams
	Role    string `json:"role" form:"role" query:"role"`
	Keyword string `json:"keyword" form:"keyword" query:"keyword"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ProfileUpdateRequest uses pointers so absent fields are left untouched.
type ProfileUpdateRequest struct {
	Username       *string `json:"username,omitempty"`
	Email          *string `json:"email,omitempty"`
	Password       *string `json:"password,omitempty"`
	PreferredModel *string `json:"preferredModel,omitempty"`
	PreferredSize  *string `json:"preferredSize,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type UserListResponse struct {
	Users []DbUser `json:"users"`
	Meta  *Meta    `json:"meta"`
}
