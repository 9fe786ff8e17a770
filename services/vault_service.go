package services

import (
	"errors"
	"fmt"
	"time"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VaultService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Notifier Notifier
	log      *utils.Logger
}

func NewVaultService(db *gorm.DB, ledger *LedgerService, notifier Notifier) *VaultService {
	return &VaultService{
		DB:       db,
		Ledger:   ledger,
		Notifier: notifier,
		log:      utils.NewLogger("vault"),
	}
}

// Lock debits the wallet and creates the vault row as one logical operation:
// the vault-lock transaction and the vault either both exist or neither does.
// The conditional debit inside Apply is what enforces "sufficient available
// balance" — vaulted funds already left the wallet, so they cannot be locked
// twice.
func (s *VaultService) Lock(externalUserID string, amount int64, unlockAt time.Time) (*models.Vault, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: vault amount must be positive", ErrInvalidAmount)
	}
	if !unlockAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: unlock time must be in the future", ErrValidationError)
	}

	vaultID := uuid.NewString()
	lockTx, err := s.Ledger.Apply(TransactionRequest{
		IdempotencyKey: "vault-lock:" + vaultID,
		Type:           models.TxVaultLock,
		Amount:         amount,
		SourceID:       &externalUserID,
		Metadata:       map[string]string{"vault_id": vaultID},
	})
	if err != nil {
		return nil, err
	}

	vault := &models.Vault{
		ID:             vaultID,
		ExternalUserID: externalUserID,
		Amount:         amount,
		InitialAmount:  amount,
		Status:         models.VaultLocked,
		LockedAt:       time.Now().UTC(),
		UnlockAt:       unlockAt.UTC(),
		LockTxID:       lockTx.ID,
	}
	if err := s.DB.Create(vault).Error; err != nil {
		// Put the money back rather than leaving a debit with no vault.
		if _, rerr := s.Ledger.Reverse(lockTx.ID, "vault create failed"); rerr != nil {
			s.log.WithTxID(lockTx.ID).WithError(rerr).Error("could not compensate failed vault lock")
		}
		return nil, err
	}

	s.log.WithUserID(externalUserID).WithField("vault_id", vaultID).WithField("amount", amount).Info("vault locked")
	return vault, nil
}

// Unlock credits the vaulted amount back to the vault owner. Only the owner
// may unlock; adminOverride skips both the ownership check and the maturity
// check (the explicit early unlock path, not reachable from normal user
// flow). A vault belonging to someone else reads as not found rather than
// confirming it exists.
func (s *VaultService) Unlock(vaultID, requesterID string, adminOverride bool) (*models.Vault, error) {
	query := s.DB.Where("id = ?", vaultID)
	if !adminOverride {
		query = s.DB.Where("id = ? AND external_user_id = ?", vaultID, requesterID)
	}

	var vault models.Vault
	if err := query.First(&vault).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	if vault.Status == models.VaultUnlocked {
		return &vault, nil // already done, idempotent
	}
	if time.Now().Before(vault.UnlockAt) && !adminOverride {
		return nil, ErrVaultNotUnlockable
	}

	unlockTx, err := s.Ledger.Apply(TransactionRequest{
		IdempotencyKey: "vault-unlock:" + vault.ID,
		Type:           models.TxVaultUnlock,
		Amount:         vault.Amount,
		DestinationID:  &vault.ExternalUserID,
		Metadata:       map[string]string{"vault_id": vault.ID},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       models.VaultUnlocked,
		"unlocked_at":  now,
		"unlock_tx_id": unlockTx.ID,
	}
	if err := s.DB.Model(&vault).Updates(updates).Error; err != nil {
		return nil, err
	}
	vault.Status = models.VaultUnlocked
	vault.UnlockedAt = &now
	vault.UnlockTxID = &unlockTx.ID

	s.log.WithUserID(vault.ExternalUserID).WithField("vault_id", vault.ID).Info("vault unlocked")
	return &vault, nil
}

// List returns a user's vaults, newest lock first.
func (s *VaultService) List(externalUserID string) ([]models.Vault, error) {
	var vaults []models.Vault
	err := s.DB.Where("external_user_id = ?", externalUserID).
		Order("locked_at DESC").
		Find(&vaults).Error
	return vaults, err
}

// SweepMatured flags locked vaults whose unlock time has passed and pings the
// owner. Driven by the scheduler; the credit itself stays a user-initiated
// unlock so funds never move without a request.
func (s *VaultService) SweepMatured() {
	now := time.Now().UTC()
	var matured []models.Vault
	err := s.DB.Where("status = ? AND unlock_at <= ?", models.VaultLocked, now).
		Find(&matured).Error
	if err != nil {
		s.log.WithError(err).Error("vault maturity sweep failed")
		return
	}

	for _, v := range matured {
		if err := s.DB.Model(&v).Update("status", models.VaultPendingUnlock).Error; err != nil {
			s.log.WithField("vault_id", v.ID).WithError(err).Error("could not mark vault pending_unlock")
			continue
		}
		s.Notifier.Notify(v.ExternalUserID, "vault_matured", map[string]string{
			"vault_id": v.ID,
			"amount":   fmt.Sprintf("%d", v.Amount),
		})
	}
	if len(matured) > 0 {
		s.log.WithField("count", len(matured)).Info("vaults matured")
	}
}
