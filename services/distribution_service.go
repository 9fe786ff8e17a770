package services

import (
	"errors"
	"fmt"
	"strings"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"gorm.io/gorm"
)

type DistributionService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Cooldown *CooldownService
	Config   *ConfigService
	Metrics  *utils.EconomyMetrics
	Notifier Notifier
	log      *utils.Logger
}

func NewDistributionService(db *gorm.DB, ledger *LedgerService, cooldown *CooldownService, cfg *ConfigService, metrics *utils.EconomyMetrics, notifier Notifier) *DistributionService {
	return &DistributionService{
		DB:       db,
		Ledger:   ledger,
		Cooldown: cooldown,
		Config:   cfg,
		Metrics:  metrics,
		Notifier: notifier,
		log:      utils.NewLogger("distribution"),
	}
}

// DistributionRequest fans one sender amount out to recipients. Either an
// explicit recipient list or a RecipientCount (rain picks random active
// accounts) must be given. Kind selects the tip/rain config and cooldown key.
// IdempotencyKey identifies the request: resubmitting the same key replays
// the settled result instead of debiting the sender again.
type DistributionRequest struct {
	IdempotencyKey string   `json:"idempotency_key" validate:"required"`
	Kind           string   `json:"kind" validate:"required,oneof=tip rain airdrop"`
	SenderID       string   `json:"sender_id" validate:"required"`
	TotalAmount    int64    `json:"total_amount" validate:"required,gt=0"`
	Recipients     []string `json:"recipients,omitempty"`
	RecipientCount int      `json:"recipient_count,omitempty"`
	SenderRoles    []string `json:"-"`
}

// DistributionResult accounts for every minor unit of the request:
// PerShare*len(Credited) + Burned + Refunded == TotalAmount.
type DistributionResult struct {
	DistributionID string   `json:"distribution_id"`
	PerShare       int64    `json:"per_share"`
	Credited       []string `json:"credited"`
	Skipped        []string `json:"skipped"`
	Burned         int64    `json:"burned"`
	Refunded       int64    `json:"refunded"` // remainder plus shares of invalid recipients; never debited
	NetDebit       int64    `json:"net_debit"`
	Transactions   []string `json:"transactions"`
}

// Distribute performs the whole fan-out as one logical unit. Shares are
// computed over the requested recipient slots; slots held by invalid
// (missing, frozen, suspended, self) recipients and the integer-division
// remainder stay with the sender — the engine debits only what is actually
// delivered plus the burn. If any credit after the sender debit fails, the
// engine compensates everything already applied instead of leaving a partial
// state.
func (s *DistributionService) Distribute(req DistributionRequest) (*DistributionResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency_key is required", ErrValidationError)
	}

	// A key that already settled replays the original outcome before any
	// bounds, cooldown or balance checks run again.
	if replay, err := s.findSettled(req); err != nil {
		return nil, err
	} else if replay != nil {
		return replay, nil
	}

	cfg := s.Config.Snapshot()

	minAmt, maxAmt := cfg.AmountBounds(req.Kind)
	if req.TotalAmount < minAmt || req.TotalAmount > maxAmt {
		return nil, fmt.Errorf("%w: %s amount must be within [%d, %d]", ErrInvalidAmount, req.Kind, minAmt, maxAmt)
	}

	requested, err := s.resolveRecipients(req, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.Cooldown.Check(req.SenderID, req.Kind, req.SenderRoles); err != nil {
		return nil, err
	}

	burnPct, recipientPct := cfg.BurnAndRecipientPercent(req.Kind)
	burn := req.TotalAmount * int64(burnPct) / 100
	pool := req.TotalAmount * int64(recipientPct) / 100
	perShare := pool / int64(len(requested))

	valid, skipped := s.splitValidRecipients(req.SenderID, requested)
	if len(valid) == 0 {
		return nil, ErrNoValidRecipients
	}

	// perShare may floor to zero for tiny amounts over many recipients.
	// Accepted boundary condition: the burn still applies, everything else
	// refunds to the sender.
	netDebit := perShare*int64(len(valid)) + burn
	refund := req.TotalAmount - netDebit

	distributionID := req.IdempotencyKey
	meta := map[string]string{"distribution_id": distributionID, "kind": req.Kind}

	result := &DistributionResult{
		DistributionID: distributionID,
		PerShare:       perShare,
		Skipped:        skipped,
		Burned:         burn,
		Refunded:       refund,
		NetDebit:       netDebit,
	}

	// Sender debit first: this is the one conditional step that can reject
	// with InsufficientBalance. Everything after it is compensated on failure.
	var applied []string
	debitTx, err := s.Ledger.Apply(TransactionRequest{
		IdempotencyKey: fmt.Sprintf("dist:%s:debit", distributionID),
		Type:           models.TransactionType(req.Kind),
		Amount:         netDebit,
		SourceID:       &req.SenderID,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}
	applied = append(applied, debitTx.ID)

	txType := models.TransactionType(req.Kind)
	for i, recipient := range valid {
		if perShare == 0 {
			break
		}
		r := recipient
		creditTx, err := s.Ledger.Apply(TransactionRequest{
			IdempotencyKey: fmt.Sprintf("dist:%s:credit:%d", distributionID, i),
			Type:           txType,
			Amount:         perShare,
			DestinationID:  &r,
			Metadata:       meta,
		})
		if err != nil {
			s.compensate(applied, distributionID)
			return nil, fmt.Errorf("distribution credit failed, rolled back: %w", err)
		}
		applied = append(applied, creditTx.ID)
		result.Credited = append(result.Credited, r)
	}

	if burn > 0 {
		burnDest := models.BurnAccountID
		burnTx, err := s.Ledger.Apply(TransactionRequest{
			IdempotencyKey: fmt.Sprintf("dist:%s:burn", distributionID),
			Type:           models.TxFee,
			Amount:         burn,
			DestinationID:  &burnDest,
			Metadata:       meta,
		})
		if err != nil {
			s.compensate(applied, distributionID)
			return nil, fmt.Errorf("distribution burn failed, rolled back: %w", err)
		}
		applied = append(applied, burnTx.ID)
	}

	result.Transactions = applied
	s.Metrics.DistributionsTotal.WithLabelValues(req.Kind).Inc()
	s.log.WithUserID(req.SenderID).
		WithField("distribution_id", distributionID).
		WithField("kind", req.Kind).
		WithField("net_debit", netDebit).
		WithField("recipients", len(result.Credited)).
		Info("distribution completed")

	for _, r := range result.Credited {
		s.Notifier.Notify(r, req.Kind+"_received", map[string]string{
			"from":   req.SenderID,
			"amount": fmt.Sprintf("%d", perShare),
		})
	}

	return result, nil
}

// findSettled rebuilds the result of a previously settled request from its
// ledger rows. Returns (nil, nil) when the key has not been used.
func (s *DistributionService) findSettled(req DistributionRequest) (*DistributionResult, error) {
	var debit models.Transaction
	err := s.DB.Where("idempotency_key = ?", fmt.Sprintf("dist:%s:debit", req.IdempotencyKey)).
		First(&debit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if debit.Status == models.TxReversed {
		return nil, fmt.Errorf("%w: distribution %s was rolled back", ErrAlreadyReversed, req.IdempotencyKey)
	}

	var legs []models.Transaction
	if err := s.DB.Where("idempotency_key LIKE ?", "dist:"+req.IdempotencyKey+":%").
		Order("created_at ASC").
		Find(&legs).Error; err != nil {
		return nil, err
	}

	result := &DistributionResult{DistributionID: req.IdempotencyKey}
	for _, leg := range legs {
		result.Transactions = append(result.Transactions, leg.ID)
		switch {
		case strings.HasSuffix(leg.IdempotencyKey, ":debit"):
			result.NetDebit = leg.Amount
		case strings.HasSuffix(leg.IdempotencyKey, ":burn"):
			result.Burned = leg.Amount
		default:
			result.PerShare = leg.Amount
			if leg.DestinationID != nil {
				result.Credited = append(result.Credited, *leg.DestinationID)
			}
		}
	}
	result.Refunded = req.TotalAmount - result.NetDebit

	s.log.WithUserID(req.SenderID).
		WithField("distribution_id", result.DistributionID).
		Info("distribution replayed from settled state")
	return result, nil
}

// resolveRecipients normalizes the two request shapes into one list of
// requested recipient slots.
func (s *DistributionService) resolveRecipients(req DistributionRequest, cfg EconomyConfig) ([]string, error) {
	if len(req.Recipients) > 0 {
		if req.Kind == "rain" && len(req.Recipients) > cfg.RainMaxRecipients {
			return nil, fmt.Errorf("%w: rain supports at most %d recipients", ErrValidationError, cfg.RainMaxRecipients)
		}
		return req.Recipients, nil
	}

	if req.RecipientCount <= 0 {
		return nil, fmt.Errorf("%w: recipients or recipient_count required", ErrValidationError)
	}
	count := req.RecipientCount
	if count > cfg.RainMaxRecipients {
		count = cfg.RainMaxRecipients
	}

	// Rain without an explicit list showers random active accounts.
	var picked []models.Account
	err := s.DB.Where("status = ? AND external_user_id NOT IN ?",
		models.AccountActive, []string{req.SenderID, models.BurnAccountID, models.TreasuryAccountID}).
		Order("RANDOM()").
		Limit(count).
		Find(&picked).Error
	if err != nil {
		return nil, err
	}
	if len(picked) == 0 {
		return nil, ErrNoValidRecipients
	}
	ids := make([]string, 0, len(picked))
	for _, a := range picked {
		ids = append(ids, a.ExternalUserID)
	}
	return ids, nil
}

// splitValidRecipients drops recipients that cannot legally receive: unknown
// accounts, frozen/suspended ones, the sender, and duplicates.
func (s *DistributionService) splitValidRecipients(senderID string, requested []string) (valid, skipped []string) {
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if id == senderID {
			skipped = append(skipped, id)
			continue
		}
		if _, dup := seen[id]; dup {
			skipped = append(skipped, id)
			continue
		}
		seen[id] = struct{}{}

		acct, err := s.Ledger.GetBalance(id)
		if err != nil || !acct.CanTransact() {
			skipped = append(skipped, id)
			continue
		}
		valid = append(valid, id)
	}
	return valid, skipped
}

// compensate reverses already-applied legs of a half-finished distribution.
func (s *DistributionService) compensate(applied []string, distributionID string) {
	for i := len(applied) - 1; i >= 0; i-- {
		if _, err := s.Ledger.Reverse(applied[i], "distribution "+distributionID+" rollback"); err != nil {
			// A stuck leg needs operator attention; keep unwinding the rest.
			s.log.WithTxID(applied[i]).WithError(err).Error("compensating reversal failed")
		}
	}
}
