package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LevelThresholds[i] is the minimum cumulative XP for level i+1, ascending.
// Built once from the same curve the rest of the platform uses
// (base * n^1.2, accumulated), then looked up by binary search.
var LevelThresholds = buildLevelThresholds(100, 100)

func buildLevelThresholds(baseXP int64, maxLevel int) []int64 {
	thresholds := make([]int64, maxLevel)
	var cumulative int64
	thresholds[0] = 0
	for lvl := 1; lvl < maxLevel; lvl++ {
		cumulative += int64(float64(baseXP) * math.Pow(float64(lvl), 1.2))
		thresholds[lvl] = cumulative
	}
	return thresholds
}

// LevelForXP returns the highest level whose minimum XP is <= totalXP.
func LevelForXP(totalXP int64) int {
	// First index whose threshold exceeds totalXP; the level before it wins.
	idx := sort.Search(len(LevelThresholds), func(i int) bool {
		return LevelThresholds[i] > totalXP
	})
	return idx
}

// LevelWindow returns the cumulative XP floor of the given level and the
// XP needed for the next one. At the level cap the next threshold equals
// the floor, which clients read as "maxed out".
func LevelWindow(level int) (floor, next int64) {
	if level < 1 {
		level = 1
	}
	if level > len(LevelThresholds) {
		level = len(LevelThresholds)
	}
	floor = LevelThresholds[level-1]
	if level < len(LevelThresholds) {
		next = LevelThresholds[level]
	} else {
		next = floor
	}
	return floor, next
}

type ProgressionService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Config   *ConfigService
	Metrics  *utils.EconomyMetrics
	Notifier Notifier
	log      *utils.Logger
}

func NewProgressionService(db *gorm.DB, ledger *LedgerService, cfg *ConfigService, metrics *utils.EconomyMetrics, notifier Notifier) *ProgressionService {
	return &ProgressionService{
		DB:       db,
		Ledger:   ledger,
		Config:   cfg,
		Metrics:  metrics,
		Notifier: notifier,
		log:      utils.NewLogger("progression"),
	}
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(externalUserID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := s.DB.Where("external_user_id = ?", externalUserID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		prog = models.UserProgress{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			TotalXP:        0,
			Level:          1,
		}
		if cerr := s.DB.Create(&prog).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				if ferr := s.DB.Where("external_user_id = ?", externalUserID).First(&prog).Error; ferr == nil {
					return &prog, nil
				}
			}
			return nil, cerr
		}
		return &prog, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

// AwardXP grants baseAmount × multiplier XP for a qualifying action, bounded
// by the per-day cap for that action. A capped call is still a success — it
// just changes nothing — so callers never special-case the (K+1)-th event of
// the day. The day window resets implicitly on date rollover (UTC).
func (s *ProgressionService) AwardXP(externalUserID, action string, baseAmount int64) (*models.UserProgress, error) {
	cfg := s.Config.Snapshot()
	cap := cfg.DailyCap(action)

	var updated *models.UserProgress
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		today := now.Truncate(24 * time.Hour)

		// Seed the limit row if it is missing; losing the insert race to a
		// concurrent award is fine, the conditional bump below does the
		// real work.
		seed := models.XPActionLimit{
			ExternalUserID: externalUserID,
			Action:         action,
			WindowStart:    today,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}, {Name: "action"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}

		// Roll the window forward on date change.
		if err := tx.Model(&models.XPActionLimit{}).
			Where("external_user_id = ? AND action = ? AND window_start < ?", externalUserID, action, today).
			Updates(map[string]interface{}{"count_today": 0, "window_start": today}).Error; err != nil {
			return err
		}

		// Cap check and count bump are one conditional UPDATE, so two
		// concurrent awards at count cap-1 cannot both pass under read
		// committed.
		bump := tx.Model(&models.XPActionLimit{}).
			Where("external_user_id = ? AND action = ?", externalUserID, action)
		if cap > 0 {
			bump = bump.Where("count_today < ?", cap)
		}
		res := bump.Updates(map[string]interface{}{
			"count_today":   gorm.Expr("count_today + 1"),
			"last_award_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Cap reached: no-op, report current progress.
			prog, perr := s.ensureProgressTx(tx, externalUserID)
			if perr != nil {
				return perr
			}
			updated = prog
			return nil
		}

		gained := baseAmount * int64(cfg.XPMultiplier)
		prog, leveled, err := s.addXPTx(tx, externalUserID, gained, now)
		if err != nil {
			return err
		}

		s.Metrics.XPAwardedTotal.Add(float64(gained))
		if leveled {
			s.Metrics.LevelUpsTotal.Inc()
			s.log.WithUserID(externalUserID).
				WithField("level", prog.Level).
				WithField("total_xp", prog.TotalXP).
				Info("level up 🎮")
			s.Notifier.Notify(externalUserID, "level_up", map[string]string{
				"level": fmt.Sprintf("%d", prog.Level),
			})
		}
		updated = prog
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GrantXP adds XP outside the daily-cap system. Used by the mission reward
// path, which carries its own exactly-once guard.
func (s *ProgressionService) GrantXP(externalUserID string, amount int64, reason string) (*models.UserProgress, error) {
	var updated *models.UserProgress
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		prog, err := s.grantXPWithin(tx, externalUserID, amount)
		if err != nil {
			return err
		}
		updated = prog
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithUserID(externalUserID).WithField("xp", amount).WithField("reason", reason).Debug("xp granted")
	return updated, nil
}

// GrantXPTx composes the grant into the caller's open transaction.
func (s *ProgressionService) GrantXPTx(tx *gorm.DB, externalUserID string, amount int64, reason string) (*models.UserProgress, error) {
	return s.grantXPWithin(tx, externalUserID, amount)
}

func (s *ProgressionService) grantXPWithin(tx *gorm.DB, externalUserID string, amount int64) (*models.UserProgress, error) {
	prog, leveled, err := s.addXPTx(tx, externalUserID, amount, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.Metrics.XPAwardedTotal.Add(float64(amount))
	if leveled {
		s.Metrics.LevelUpsTotal.Inc()
		s.Notifier.Notify(externalUserID, "level_up", map[string]string{
			"level": fmt.Sprintf("%d", prog.Level),
		})
	}
	return prog, nil
}

// addXPTx applies an XP delta as an in-place increment so concurrent grants
// cannot lose each other's writes, then derives the level from the total that
// actually landed. Returns whether this call moved the level.
func (s *ProgressionService) addXPTx(tx *gorm.DB, externalUserID string, gained int64, now time.Time) (*models.UserProgress, bool, error) {
	if _, err := s.ensureProgressTx(tx, externalUserID); err != nil {
		return nil, false, err
	}
	if err := tx.Model(&models.UserProgress{}).
		Where("external_user_id = ?", externalUserID).
		UpdateColumn("total_xp", gorm.Expr("total_xp + ?", gained)).Error; err != nil {
		return nil, false, err
	}

	var prog models.UserProgress
	if err := tx.Where("external_user_id = ?", externalUserID).First(&prog).Error; err != nil {
		return nil, false, err
	}

	newLevel := LevelForXP(prog.TotalXP)
	if newLevel <= prog.Level {
		return &prog, false, nil
	}

	// Level only moves up; a concurrent grant that saw a higher total wins
	// the conditional update and takes credit for the level-up.
	res := tx.Model(&models.UserProgress{}).
		Where("external_user_id = ? AND level < ?", externalUserID, newLevel).
		Updates(map[string]interface{}{"level": newLevel, "last_level_up_at": now})
	if res.Error != nil {
		return nil, false, res.Error
	}
	prog.Level = newLevel
	prog.LastLevelUpAt = &now
	return &prog, res.RowsAffected > 0, nil
}

// ProcessReferralAward pays the referrer once the referred account's first
// deposit confirms: a referral-bonus transaction from the treasury plus XP.
// Guarded by the account's awarded flag, so redelivery is a no-op.
func (s *ProgressionService) ProcessReferralAward(referredUserID string) error {
	acct, err := s.Ledger.GetBalance(referredUserID)
	if err != nil {
		return err
	}
	if acct.ReferredBy == nil || acct.ReferralBonusAwarded {
		return nil
	}

	var deposits int64
	if err := s.DB.Model(&models.Transaction{}).
		Where("destination_id = ? AND type = ? AND status = ?", referredUserID, models.TxDeposit, models.TxConfirmed).
		Count(&deposits).Error; err != nil {
		return err
	}
	if deposits == 0 {
		return nil // wait for the first confirmed deposit
	}

	cfg := s.Config.Snapshot()
	treasury := models.TreasuryAccountID
	referrer := *acct.ReferredBy

	if _, err := s.Ledger.Apply(TransactionRequest{
		IdempotencyKey: "referral-bonus:" + referredUserID,
		Type:           models.TxReferralBonus,
		Amount:         cfg.ReferralBonus,
		SourceID:       &treasury,
		DestinationID:  &referrer,
		Metadata:       map[string]string{"referred": referredUserID},
	}); err != nil {
		return err
	}

	if _, err := s.GrantXP(referrer, cfg.ReferralXP, "referral_"+referredUserID); err != nil {
		return err
	}
	if err := s.DB.Model(&models.UserProgress{}).
		Where("external_user_id = ?", referrer).
		UpdateColumn("total_referrals", gorm.Expr("total_referrals + 1")).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.DB.Model(acct).Updates(map[string]interface{}{
		"referral_bonus_awarded": true,
		"referral_awarded_at":    now,
	}).Error; err != nil {
		return err
	}

	s.log.WithUserID(referrer).WithField("referred", referredUserID).Info("referral bonus awarded")
	return nil
}

func (s *ProgressionService) ensureProgressTx(tx *gorm.DB, externalUserID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := tx.Where("external_user_id = ?", externalUserID).First(&prog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		prog = models.UserProgress{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			TotalXP:        0,
			Level:          1,
		}
		if cerr := tx.Create(&prog).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				if ferr := tx.Where("external_user_id = ?", externalUserID).First(&prog).Error; ferr == nil {
					return &prog, nil
				}
			}
			return nil, cerr
		}
		return &prog, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}
