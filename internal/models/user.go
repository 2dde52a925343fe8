package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the slice of the user record the realtime core touches.
// Profile fields are owned by the account service; the hub only reads the ID
// and writes the presence columns.
type User struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex" json:"username"`
	// IsOnline mirrors the Presence Tracker for consumers that only see the database.
	IsOnline bool `gorm:"not null;default:false" json:"isOnline"`
	// LastSeen is written only when the user's last live connection closes.
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// BeforeCreate is a GORM hook that assigns a UUID when the ID is empty.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
