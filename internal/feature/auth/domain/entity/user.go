// Package entity defines the domain entities for the auth feature.
package entity

import "time"

// User はコンソールにログインできるオペレーターを表します。
type User struct {
	// ID is the unique identifier for the operator.
	ID uint `gorm:"primaryKey" json:"id"`

	// Username はログインに使う一意な名前です。
	Username string `gorm:"uniqueIndex;size:64;not null" json:"username"`

	// Password is the bcrypt hash. Never plaintext.
	Password string `gorm:"size:255;not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
