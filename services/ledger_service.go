package services

import (
	"errors"
	"fmt"
	"time"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// maxTxRetries bounds internal retries on transient write conflicts before
// the error surfaces as service-unavailable.
const maxTxRetries = 3

type LedgerService struct {
	DB      *gorm.DB
	Metrics *utils.EconomyMetrics
	log     *utils.Logger
}

func NewLedgerService(db *gorm.DB, metrics *utils.EconomyMetrics) *LedgerService {
	return &LedgerService{
		DB:      db,
		Metrics: metrics,
		log:     utils.NewLogger("ledger"),
	}
}

// TransactionRequest describes one money movement. Amount is a positive
// magnitude except for admin adjustments, which carry a signed delta applied
// to the destination account.
type TransactionRequest struct {
	IdempotencyKey string                 `json:"idempotency_key" validate:"required"`
	Type           models.TransactionType `json:"type" validate:"required"`
	Amount         int64                  `json:"amount" validate:"required"`
	SourceID       *string                `json:"source_id,omitempty"`
	DestinationID  *string                `json:"destination_id,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`

	reversalOf *string
}

// HistoryFilter narrows the transaction history read.
type HistoryFilter struct {
	Type   models.TransactionType
	Status models.TransactionStatus
	Since  *time.Time
	Page   int
	Size   int
}

// OpenAccount finds or creates the ledger account for a user (idempotent).
func (s *LedgerService) OpenAccount(externalUserID string, referredBy *string) (*models.Account, error) {
	var acct models.Account
	err := s.DB.Where("external_user_id = ?", externalUserID).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acct = models.Account{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Balance:        0,
		Status:         models.AccountActive,
		ReferredBy:     referredBy,
	}
	if err := s.DB.Create(&acct).Error; err != nil {
		// Lost a concurrent create race — the row exists now, fetch it.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if ferr := s.DB.Where("external_user_id = ?", externalUserID).First(&acct).Error; ferr == nil {
				return &acct, nil
			}
		}
		return nil, err
	}
	s.log.WithUserID(externalUserID).Info("account opened")
	return &acct, nil
}

// EnsureSystemAccounts creates the burn and treasury sink accounts.
func (s *LedgerService) EnsureSystemAccounts() error {
	for _, id := range []string{models.BurnAccountID, models.TreasuryAccountID} {
		if _, err := s.OpenAccount(id, nil); err != nil {
			return fmt.Errorf("ensure system account %s: %w", id, err)
		}
	}
	return nil
}

// GetBalance returns the account for a user, ErrAccountNotFound if missing.
func (s *LedgerService) GetBalance(externalUserID string) (*models.Account, error) {
	var acct models.Account
	if err := s.DB.Where("external_user_id = ?", externalUserID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// Apply moves money atomically. The balance update is a single conditional
// UPDATE, so two concurrent debits that would jointly overdraft cannot both
// succeed. Re-submitting a confirmed idempotency key is a no-op returning the
// original transaction. Transient conflicts are retried a fixed number of
// times before surfacing as ErrTransactionConflict.
func (s *LedgerService) Apply(req TransactionRequest) (*models.Transaction, error) {
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			s.Metrics.TransactionRetries.Inc()
			time.Sleep(time.Duration(attempt*25) * time.Millisecond)
		}
		txn, err := s.applyOnce(req)
		if err == nil {
			s.Metrics.TransactionsTotal.WithLabelValues(string(req.Type), string(txn.Status)).Inc()
			s.Metrics.TransactionAmount.WithLabelValues(string(req.Type)).Add(float64(abs64(req.Amount)))
			return txn, nil
		}
		if isTransientConflict(err) {
			lastErr = ErrTransactionConflict
			continue
		}
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrAccountNotActive) {
			s.recordFailed(req, err)
		}
		s.Metrics.TransactionsTotal.WithLabelValues(string(req.Type), string(models.TxFailed)).Inc()
		return nil, err
	}
	s.log.WithField("idempotency_key", req.IdempotencyKey).Warn("transaction gave up after retries")
	return nil, lastErr
}

func (s *LedgerService) validateRequest(req *TransactionRequest) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidationError)
	}
	if req.SourceID == nil && req.DestinationID == nil {
		return fmt.Errorf("%w: transaction needs at least one account", ErrValidationError)
	}
	if req.Type == models.TxAdminAdjust {
		if req.DestinationID == nil {
			return fmt.Errorf("%w: admin adjust needs a destination account", ErrValidationError)
		}
		if req.Amount == 0 {
			return fmt.Errorf("%w: zero adjustment", ErrValidationError)
		}
		return nil
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidationError)
	}
	return nil
}

func (s *LedgerService) applyOnce(req TransactionRequest) (*models.Transaction, error) {
	var result *models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		txn, err := s.applyWithin(tx, req)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyTx runs the movement inside the caller's open transaction so that
// multi-entity operations (mission rewards, for one) commit atomically with
// their own rows. No internal retries here; the caller owns the boundary.
func (s *LedgerService) ApplyTx(tx *gorm.DB, req TransactionRequest) (*models.Transaction, error) {
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}
	txn, err := s.applyWithin(tx, req)
	if err != nil {
		return nil, err
	}
	s.Metrics.TransactionsTotal.WithLabelValues(string(req.Type), string(txn.Status)).Inc()
	s.Metrics.TransactionAmount.WithLabelValues(string(req.Type)).Add(float64(abs64(req.Amount)))
	return txn, nil
}

func (s *LedgerService) applyWithin(tx *gorm.DB, req TransactionRequest) (*models.Transaction, error) {
	// Idempotency: a key already on file short-circuits to the original.
	var existing models.Transaction
	err := tx.Where("idempotency_key = ?", req.IdempotencyKey).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	adminAdjust := req.Type == models.TxAdminAdjust

	if err := s.checkAccount(tx, req.SourceID, adminAdjust); err != nil {
		return nil, err
	}
	if err := s.checkAccount(tx, req.DestinationID, adminAdjust); err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Type:           req.Type,
		Amount:         req.Amount,
		SourceID:       req.SourceID,
		DestinationID:  req.DestinationID,
		Status:         models.TxPending,
		Metadata:       req.Metadata,
		ReversalOf:     req.reversalOf,
	}
	if err := tx.Create(txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Concurrent duplicate submission won the race.
			if ferr := tx.Where("idempotency_key = ?", req.IdempotencyKey).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}

	if adminAdjust {
		// Signed delta, no overdraft guard: the one sanctioned path below zero.
		res := tx.Model(&models.Account{}).
			Where("external_user_id = ?", *req.DestinationID).
			UpdateColumn("balance", gorm.Expr("balance + ?", req.Amount))
		if res.Error != nil {
			return nil, res.Error
		}
	} else {
		if req.SourceID != nil {
			res := tx.Model(&models.Account{}).
				Where("external_user_id = ? AND balance >= ?", *req.SourceID, req.Amount).
				UpdateColumn("balance", gorm.Expr("balance - ?", req.Amount))
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected == 0 {
				return nil, ErrInsufficientBalance
			}
		}
		if req.DestinationID != nil {
			res := tx.Model(&models.Account{}).
				Where("external_user_id = ?", *req.DestinationID).
				UpdateColumn("balance", gorm.Expr("balance + ?", req.Amount))
			if res.Error != nil {
				return nil, res.Error
			}
		}
	}

	txn.Status = models.TxConfirmed
	if err := tx.Model(txn).Update("status", models.TxConfirmed).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// checkAccount verifies the account exists and, outside admin adjustments,
// accepts money movement. System sink accounts always pass.
func (s *LedgerService) checkAccount(tx *gorm.DB, id *string, adminAdjust bool) error {
	if id == nil {
		return nil
	}
	var acct models.Account
	if err := tx.Where("external_user_id = ?", *id).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if !adminAdjust && !acct.CanTransact() {
		return ErrAccountNotActive
	}
	return nil
}

// SetAccountStatus freezes, suspends or reactivates an account. Frozen and
// suspended accounts reject every movement except admin adjustments.
func (s *LedgerService) SetAccountStatus(externalUserID string, status models.AccountStatus) (*models.Account, error) {
	acct, err := s.GetBalance(externalUserID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Model(acct).Update("status", status).Error; err != nil {
		return nil, err
	}
	acct.Status = status
	s.log.WithUserID(externalUserID).WithField("status", status).Info("account status changed")
	return acct, nil
}

// Reverse creates a compensating transaction with swapped accounts and links
// it to the original; the original row is never edited beyond its status.
func (s *LedgerService) Reverse(txID, reason string) (*models.Transaction, error) {
	var original models.Transaction
	if err := s.DB.Where("id = ?", txID).First(&original).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	if original.Status != models.TxConfirmed {
		return nil, fmt.Errorf("%w: only confirmed transactions can be reversed", ErrValidationError)
	}

	var reversals int64
	if err := s.DB.Model(&models.Transaction{}).Where("reversal_of = ?", txID).Count(&reversals).Error; err != nil {
		return nil, err
	}
	if reversals > 0 {
		return nil, ErrAlreadyReversed
	}

	req := TransactionRequest{
		IdempotencyKey: "reversal:" + txID,
		Type:           original.Type,
		Amount:         original.Amount,
		SourceID:       original.DestinationID,
		DestinationID:  original.SourceID,
		Metadata:       map[string]string{"reason": reason},
		reversalOf:     &original.ID,
	}
	compensating, err := s.Apply(req)
	if err != nil {
		return nil, err
	}

	if err := s.DB.Model(&original).Update("status", models.TxReversed).Error; err != nil {
		return nil, err
	}
	s.log.WithTxID(txID).WithField("reversal_id", compensating.ID).Info("transaction reversed")
	return compensating, nil
}

// History returns the user's transactions, newest first.
func (s *LedgerService) History(externalUserID string, filter HistoryFilter) ([]models.Transaction, int64, error) {
	page, size := filter.Page, filter.Size
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	query := s.DB.Model(&models.Transaction{}).
		Where("source_id = ? OR destination_id = ?", externalUserID, externalUserID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txns []models.Transaction
	err := query.Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&txns).Error
	return txns, total, err
}

// recordFailed keeps a failed row in the log for auditing. Best effort; the
// balance invariant only counts confirmed rows. The row gets its own key so a
// later retry of the caller's idempotency key is not short-circuited to the
// failure.
func (s *LedgerService) recordFailed(req TransactionRequest, cause error) {
	failedID := uuid.NewString()
	failed := &models.Transaction{
		ID:             failedID,
		IdempotencyKey: "failed:" + failedID,
		Type:           req.Type,
		Amount:         req.Amount,
		SourceID:       req.SourceID,
		DestinationID:  req.DestinationID,
		Status:         models.TxFailed,
		Metadata:       map[string]string{"error": cause.Error(), "requested_key": req.IdempotencyKey},
	}
	if err := s.DB.Create(failed).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		s.log.WithError(err).Warn("could not record failed transaction")
	}
}

// isTransientConflict reports whether the error is worth retrying: a gorm
// transaction invalidated mid-flight, a Postgres serialization failure
// (SQLSTATE 40001) or a deadlock the server resolved by aborting us (40P01).
func isTransientConflict(err error) bool {
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
