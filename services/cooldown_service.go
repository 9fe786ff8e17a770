package services

import (
	"time"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CooldownService struct {
	DB      *gorm.DB
	Config  *ConfigService
	Metrics *utils.EconomyMetrics
	log     *utils.Logger
}

func NewCooldownService(db *gorm.DB, cfg *ConfigService, metrics *utils.EconomyMetrics) *CooldownService {
	return &CooldownService{
		DB:      db,
		Config:  cfg,
		Metrics: metrics,
		log:     utils.NewLogger("cooldown"),
	}
}

// Check arms the cooldown for (user, action) and permits the action, or
// rejects with ErrCooldownActive while a window is live. The read-then-write
// is one conditional upsert: INSERT ... ON CONFLICT DO UPDATE ... WHERE the
// stored expiry has passed, so two near-simultaneous requests from the same
// user cannot both slip through. Rejected calls are terminal — no queuing.
func (s *CooldownService) Check(externalUserID, actionKey string, roles []string) error {
	cfg := s.Config.Snapshot()
	if cfg.HasBypassRole(roles) {
		return nil
	}

	window, ok := cfg.CooldownWindows[actionKey]
	if !ok || window <= 0 {
		return nil // action not gated
	}

	now := time.Now().UTC()
	row := models.CooldownState{
		ExternalUserID: externalUserID,
		ActionKey:      actionKey,
		ExpiresAt:      now.Add(window),
	}

	res := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}, {Name: "action_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"expires_at": now.Add(window),
			"updated_at": now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: "cooldown_states", Name: "expires_at"}, Value: now},
		}},
	}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.Metrics.CooldownRejections.WithLabelValues(actionKey).Inc()
		s.log.WithUserID(externalUserID).WithField("action", actionKey).Debug("cooldown rejection")
		return ErrCooldownActive
	}
	return nil
}

// Remaining reports how long until the action is allowed again, zero when the
// gate is open. Read-only; it never arms the window.
func (s *CooldownService) Remaining(externalUserID, actionKey string) (time.Duration, error) {
	var row models.CooldownState
	err := s.DB.Where("external_user_id = ? AND action_key = ?", externalUserID, actionKey).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	left := time.Until(row.ExpiresAt)
	if left < 0 {
		left = 0
	}
	return left, nil
}
