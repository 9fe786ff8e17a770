package models

import "time"

type VaultStatus string

const (
	VaultLocked        VaultStatus = "locked"
	VaultPendingUnlock VaultStatus = "pending_unlock"
	VaultUnlocked      VaultStatus = "unlocked"
)

// Vault is a time-locked slice of a user's balance. The amount only changes
// through its paired lock/unlock transactions; there is no partial withdrawal.
type Vault struct {
	ID             string      `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string      `gorm:"index;not null" json:"external_user_id"`
	Amount         int64       `gorm:"not null" json:"amount"`
	InitialAmount  int64       `gorm:"not null" json:"initial_amount"`
	Status         VaultStatus `gorm:"type:varchar(16);not null;default:'locked';index" json:"status"`
	LockedAt       time.Time   `gorm:"not null" json:"locked_at"`
	UnlockAt       time.Time   `gorm:"not null;index" json:"unlock_at"`
	UnlockedAt     *time.Time  `json:"unlocked_at,omitempty"`

	LockTxID   string  `gorm:"not null" json:"lock_tx_id"`
	UnlockTxID *string `json:"unlock_tx_id,omitempty"`

	Timestamps
}
