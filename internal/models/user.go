package models

import "time"

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Username     string     `db:"username" json:"username,omitempty"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name,omitempty"`
	Active       bool       `db:"active" json:"active"`
	Superuser    bool       `db:"superuser" json:"superuser"`
	Verified     bool       `db:"verified" json:"verified"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserProfile holds optional profile details linked one-to-one with a user.
type UserProfile struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	AvatarURL   *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Bio         *string   `db:"bio" json:"bio,omitempty"`
	PhoneNumber *string   `db:"phone_number" json:"phone_number,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Active    *bool
	Verified  *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
