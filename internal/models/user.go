package models

import (
	"time"
)

// User represents a platform member. ReferredByID links to the direct referrer.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"size:150;uniqueIndex;not null" json:"username"`
	ReferralCode *string    `gorm:"size:16;uniqueIndex" json:"referral_code,omitempty"`
	ReferredByID *uint      `gorm:"index" json:"referred_by_id,omitempty"`
	ReferredBy   *User      `gorm:"foreignKey:ReferredByID" json:"referred_by,omitempty"`
	IsApproved   bool       `gorm:"default:false;index" json:"is_approved"`
	IsAdmin      bool       `gorm:"default:false" json:"is_admin"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
