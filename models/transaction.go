package models

import "time"

type TransactionType string

const (
	TxTip           TransactionType = "tip"
	TxDeposit       TransactionType = "deposit"
	TxWithdrawal    TransactionType = "withdrawal"
	TxAdminAdjust   TransactionType = "admin_adjust"
	TxRain          TransactionType = "rain"
	TxAirdrop       TransactionType = "airdrop"
	TxShopPurchase  TransactionType = "shop_purchase"
	TxReward        TransactionType = "reward"
	TxReferralBonus TransactionType = "referral_bonus"
	TxFee           TransactionType = "fee"
	TxVaultLock     TransactionType = "vault_lock"
	TxVaultUnlock   TransactionType = "vault_unlock"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
	TxReversed  TransactionStatus = "reversed"
	TxDisputed  TransactionStatus = "disputed"
)

// Transaction is an immutable ledger entry. Amount is the magnitude moved:
// SourceID (if set) is debited by Amount and DestinationID (if set) is
// credited by Amount. Admin adjustments may carry a negative Amount, which is
// the only way a balance delta below zero bypasses the overdraft check.
// Status only moves forward; corrections happen via a new compensating
// transaction that points back through ReversalOf.
type Transaction struct {
	ID             string            `gorm:"primaryKey;type:uuid" json:"id"`
	IdempotencyKey string            `gorm:"uniqueIndex;not null" json:"idempotency_key"`
	Type           TransactionType   `gorm:"type:varchar(24);not null;index" json:"type"`
	Amount         int64             `gorm:"not null" json:"amount"`
	SourceID       *string           `gorm:"index" json:"source_id,omitempty"`      // debited ExternalUserID
	DestinationID  *string           `gorm:"index" json:"destination_id,omitempty"` // credited ExternalUserID
	Status         TransactionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Metadata       map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	ReversalOf     *string           `gorm:"index" json:"reversal_of,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// BurnAccountID is the sink for burned DGT. It exists as a regular account so
// the conservation property (credits + burn + refund == debit) stays checkable
// from the transaction log alone.
const BurnAccountID = "system:burn"

// TreasuryAccountID funds rewards, referral bonuses and airdrops.
const TreasuryAccountID = "system:treasury"
