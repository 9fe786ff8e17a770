package models

import "time"

// UserProgress tracks gamified progression for each user (denormalized for performance)
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to identity service

	TotalXP int64 `json:"total_xp" gorm:"default:0"`
	Level   int   `json:"level" gorm:"default:1"`

	// Activity counters
	TotalTips         int64 `json:"total_tips" gorm:"default:0"`
	TotalRains        int64 `json:"total_rains" gorm:"default:0"`
	MissionsCompleted int64 `json:"missions_completed" gorm:"default:0"`
	TotalReferrals    int64 `json:"total_referrals" gorm:"default:0"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

// XPActionLimit caps how many times per day a single action can award XP to
// one user. The window resets implicitly when the stored day differs from the
// current one; no sweeper is needed.
type XPActionLimit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ExternalUserID string    `gorm:"uniqueIndex:idx_xp_limit_user_action;not null" json:"external_user_id"`
	Action         string    `gorm:"uniqueIndex:idx_xp_limit_user_action;not null" json:"action"`
	CountToday     int       `gorm:"not null;default:0" json:"count_today"`
	WindowStart    time.Time `gorm:"not null" json:"window_start"` // midnight of the counted day, UTC
	LastAwardAt    time.Time `json:"last_award_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
