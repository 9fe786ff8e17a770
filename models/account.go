package models

import (
	"time"

	"gorm.io/gorm"
)

// AccountStatus follows explicit transitions: active → frozen → active,
// active → suspended. Suspended accounts are not reactivated by this service.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountFrozen    AccountStatus = "frozen"
	AccountSuspended AccountStatus = "suspended"
)

// Account holds a user's DGT balance in minor units. Balance is only ever
// mutated through confirmed ledger transactions, so it can always be
// reconstructed as the sum of confirmed deltas touching the account.
type Account struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string        `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to identity service
	Balance        int64         `gorm:"not null;default:0" json:"balance"`
	Status         AccountStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	// Self-referential referral link: nullable FK to the referrer's
	// ExternalUserID plus an index for reverse lookups.
	ReferredBy           *string    `gorm:"index" json:"referred_by,omitempty"`
	ReferralBonusAwarded bool       `gorm:"default:false" json:"referral_bonus_awarded"`
	ReferralAwardedAt    *time.Time `json:"referral_awarded_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// CanTransact reports whether normal (non-admin) money movement is allowed.
func (a *Account) CanTransact() bool {
	return a.Status == AccountActive
}
