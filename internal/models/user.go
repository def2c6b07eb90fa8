package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account that can log in. Roles is the role bitmask
// copied into issued tokens.
type User struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	Username  string         `json:"username" gorm:"unique;not null"`
	Password  string         `json:"-" gorm:"not null"`
	Roles     int            `json:"roles" gorm:"not null;default:1"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for User Model
func (User) TableName() string {
	return "users"
}

// All lists every model migrated at startup.
func All() []any {
	return []any{&User{}, &Task{}, &Assignment{}, &TaskMember{}}
}
