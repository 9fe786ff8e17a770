package models

import "time"

// CooldownState is the single live row per (user, action) pair. The gate
// overwrites it in place; expired rows are reused, never appended to.
type CooldownState struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ExternalUserID string    `gorm:"uniqueIndex:idx_cooldown_user_action;not null" json:"external_user_id"`
	ActionKey      string    `gorm:"uniqueIndex:idx_cooldown_user_action;not null" json:"action_key"`
	ExpiresAt      time.Time `gorm:"not null" json:"expires_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
