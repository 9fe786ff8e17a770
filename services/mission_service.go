package services

import (
	"errors"
	"fmt"
	"time"

	"dgt-economy-system/models"
	"dgt-economy-system/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type MissionService struct {
	DB          *gorm.DB
	Ledger      *LedgerService
	Progression *ProgressionService
	Metrics     *utils.EconomyMetrics
	Notifier    Notifier
	log         *utils.Logger
}

func NewMissionService(db *gorm.DB, ledger *LedgerService, progression *ProgressionService, metrics *utils.EconomyMetrics, notifier Notifier) *MissionService {
	return &MissionService{
		DB:          db,
		Ledger:      ledger,
		Progression: progression,
		Metrics:     metrics,
		Notifier:    notifier,
		log:         utils.NewLogger("missions"),
	}
}

// SubmitEvent appends an activity event to the evaluator's queue. The
// caller-supplied event id makes redelivery detectable: a duplicate submit
// returns the row already on file.
func (s *MissionService) SubmitEvent(eventID, externalUserID, eventType string, payload map[string]string) (*models.AchievementEvent, error) {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	ev := &models.AchievementEvent{
		EventID:        eventID,
		ExternalUserID: externalUserID,
		EventType:      eventType,
		Payload:        payload,
		TriggeredAt:    time.Now().UTC(),
		Status:         models.EventPending,
	}
	if err := s.DB.Create(ev).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.AchievementEvent
			if ferr := s.DB.Where("event_id = ?", eventID).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return ev, nil
}

// UpsertTemplate creates or updates a mission template. The key is derived
// from the name when absent so admin tooling can omit it.
func (s *MissionService) UpsertTemplate(tpl *models.MissionTemplate) (*models.MissionTemplate, error) {
	if len(tpl.Requirements) == 0 {
		return nil, fmt.Errorf("%w: template needs at least one requirement", ErrValidationError)
	}
	if tpl.Key == "" {
		tpl.Key = slug.Make(tpl.Name)
	}

	var existing models.MissionTemplate
	err := s.DB.Where("key = ?", tpl.Key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tpl.ID = uuid.NewString()
		if cerr := s.DB.Create(tpl).Error; cerr != nil {
			return nil, cerr
		}
		return tpl, nil
	}
	if err != nil {
		return nil, err
	}

	tpl.ID = existing.ID
	if uerr := s.DB.Model(&existing).Updates(map[string]interface{}{
		"name":           tpl.Name,
		"description":    tpl.Description,
		"category":       tpl.Category,
		"type":           tpl.Type,
		"period":         tpl.Period,
		"requirements":   tpl.Requirements,
		"rewards":        tpl.Rewards,
		"prerequisites":  tpl.Prerequisites,
		"weight":         tpl.Weight,
		"min_level":      tpl.MinLevel,
		"max_level":      tpl.MaxLevel,
		"cooldown_hours": tpl.CooldownHours,
		"active":         tpl.Active,
	}).Error; uerr != nil {
		return nil, uerr
	}
	return tpl, nil
}

// AssignMissions instantiates every eligible active template the user does
// not already hold for the current period. Eligibility: template active,
// level window, prerequisites completed, template cooldown elapsed.
func (s *MissionService) AssignMissions(externalUserID string) ([]models.ActiveMission, error) {
	prog, err := s.Progression.EnsureProgressRecord(externalUserID)
	if err != nil {
		return nil, err
	}

	var templates []models.MissionTemplate
	if err := s.DB.Where("active = ?", true).Order("weight DESC").Find(&templates).Error; err != nil {
		return nil, err
	}

	var assigned []models.ActiveMission
	now := time.Now().UTC()
	for _, tpl := range templates {
		if tpl.MinLevel > 0 && prog.Level < tpl.MinLevel {
			continue
		}
		if tpl.MaxLevel > 0 && prog.Level > tpl.MaxLevel {
			continue
		}
		ok, err := s.eligibleForTemplate(externalUserID, &tpl, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		start, end := periodWindow(tpl.Period, now)
		mission := models.ActiveMission{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
			TemplateID:     tpl.ID,
			Period:         tpl.Period,
			Status:         models.MissionAssigned,
			PeriodStart:    start,
			PeriodEnd:      end,
			AssignedAt:     now,
		}
		err = s.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&mission).Error; err != nil {
				return err
			}
			for key, target := range tpl.Requirements {
				row := models.MissionProgress{
					MissionID:      mission.ID,
					RequirementKey: key,
					CurrentValue:   0,
					TargetValue:    target,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		mission.Template = &tpl
		assigned = append(assigned, mission)
	}

	if len(assigned) > 0 {
		s.log.WithUserID(externalUserID).WithField("count", len(assigned)).Info("missions assigned")
	}
	return assigned, nil
}

func (s *MissionService) eligibleForTemplate(externalUserID string, tpl *models.MissionTemplate, now time.Time) (bool, error) {
	// Already holding an open or completed instance this period?
	start, _ := periodWindow(tpl.Period, now)
	var open int64
	err := s.DB.Model(&models.ActiveMission{}).
		Where("external_user_id = ? AND template_id = ? AND period_start >= ? AND status IN ?",
			externalUserID, tpl.ID, start,
			[]models.MissionStatus{models.MissionAssigned, models.MissionCompleted, models.MissionClaimed}).
		Count(&open).Error
	if err != nil {
		return false, err
	}
	if open > 0 {
		return false, nil
	}

	// Template cooldown since the user's last completion of it.
	if tpl.CooldownHours > 0 {
		cutoff := now.Add(-time.Duration(tpl.CooldownHours) * time.Hour)
		var recent int64
		err := s.DB.Model(&models.MissionHistory{}).
			Where("external_user_id = ? AND template_key = ? AND outcome = ? AND completed_at > ?",
				externalUserID, tpl.Key, models.MissionCompleted, cutoff).
			Count(&recent).Error
		if err != nil {
			return false, err
		}
		if recent > 0 {
			return false, nil
		}
	}

	// Prerequisite template keys must have a completed history entry.
	for _, prereq := range tpl.Prerequisites {
		var done int64
		err := s.DB.Model(&models.MissionHistory{}).
			Where("external_user_id = ? AND template_key = ? AND outcome = ?",
				externalUserID, prereq, models.MissionCompleted).
			Count(&done).Error
		if err != nil {
			return false, err
		}
		if done == 0 {
			return false, nil
		}
	}
	return true, nil
}

// ProcessEvent evaluates one queued event against the user's active missions.
// Idempotent on redelivery: an event already past pending changes nothing.
// Matching missions get the corresponding progress incremented up to (never
// beyond) target; a mission whose requirements all hit target completes
// exactly once, guarded by its own assigned→completed transition.
func (s *MissionService) ProcessEvent(ev *models.AchievementEvent) error {
	start := time.Now()
	defer s.Metrics.ObserveEvent(start)

	// Claim the event; a redelivered or already-claimed row is skipped here.
	res := s.DB.Model(&models.AchievementEvent{}).
		Where("id = ? AND status = ?", ev.ID, models.EventPending).
		Update("status", models.EventProcessing)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	err := s.evaluate(ev)
	if err != nil {
		attempts := ev.Attempts + 1
		status := models.EventFailed
		if attempts >= models.MaxEventAttempts {
			status = models.EventSkipped
		}
		s.DB.Model(&models.AchievementEvent{}).Where("id = ?", ev.ID).Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": err.Error(),
		})
		s.log.WithUserID(ev.ExternalUserID).WithField("event_id", ev.EventID).WithError(err).Warn("event processing failed")
		return fmt.Errorf("%w: %v", ErrProcessingFailure, err)
	}

	return s.DB.Model(&models.AchievementEvent{}).
		Where("id = ?", ev.ID).
		Update("status", models.EventCompleted).Error
}

func (s *MissionService) evaluate(ev *models.AchievementEvent) error {
	now := time.Now().UTC()

	var missions []models.ActiveMission
	err := s.DB.Preload("Template").
		Where("external_user_id = ? AND status = ? AND period_end > ?",
			ev.ExternalUserID, models.MissionAssigned, now).
		Find(&missions).Error
	if err != nil {
		return err
	}

	increment := progressDelta(ev)

	for i := range missions {
		mission := &missions[i]
		if mission.Template == nil {
			continue
		}
		if _, matches := mission.Template.Requirements[ev.EventType]; !matches {
			continue
		}

		err := s.DB.Transaction(func(tx *gorm.DB) error {
			// Increment bounded by target; the CASE keeps concurrent
			// increments from overshooting without a separate read.
			res := tx.Model(&models.MissionProgress{}).
				Where("mission_id = ? AND requirement_key = ? AND current_value < target_value",
					mission.ID, ev.EventType).
				UpdateColumn("current_value", gorm.Expr(
					"CASE WHEN current_value + ? >= target_value THEN target_value ELSE current_value + ? END",
					increment, increment))
			if res.Error != nil {
				return res.Error
			}

			done, err := s.allRequirementsMet(tx, mission.ID)
			if err != nil {
				return err
			}
			if !done {
				return nil
			}
			return s.completeMission(tx, mission, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// progressDelta lets threshold-style events carry their own magnitude in the
// payload ("amount"); everything else counts as 1.
func progressDelta(ev *models.AchievementEvent) int64 {
	if raw, ok := ev.Payload["amount"]; ok {
		var n int64
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func (s *MissionService) allRequirementsMet(tx *gorm.DB, missionID string) (bool, error) {
	var unmet int64
	err := tx.Model(&models.MissionProgress{}).
		Where("mission_id = ? AND current_value < target_value", missionID).
		Count(&unmet).Error
	return unmet == 0, err
}

// completeMission transitions assigned→completed exactly once (the guarded
// UPDATE is the reward-issuance lock), pays out, archives history and rolls
// the streak forward.
func (s *MissionService) completeMission(tx *gorm.DB, mission *models.ActiveMission, now time.Time) error {
	res := tx.Model(&models.ActiveMission{}).
		Where("id = ? AND status = ?", mission.ID, models.MissionAssigned).
		Updates(map[string]interface{}{
			"status":       models.MissionCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil // someone else completed it; rewards already issued
	}

	tpl := mission.Template
	for rewardKey, qty := range tpl.Rewards {
		switch rewardKey {
		case "dgt":
			treasury := models.TreasuryAccountID
			if _, err := s.Ledger.ApplyTx(tx, TransactionRequest{
				IdempotencyKey: "mission-reward:" + mission.ID,
				Type:           models.TxReward,
				Amount:         qty,
				SourceID:       &treasury,
				DestinationID:  &mission.ExternalUserID,
				Metadata:       map[string]string{"mission_id": mission.ID, "template_key": tpl.Key},
			}); err != nil {
				return err
			}
		case "xp":
			if _, err := s.Progression.GrantXPTx(tx, mission.ExternalUserID, qty, "mission_"+tpl.Key); err != nil {
				return err
			}
		default:
			s.log.WithField("reward_key", rewardKey).Warn("unknown reward key, skipped")
		}
	}

	history := models.MissionHistory{
		ID:             uuid.NewString(),
		ExternalUserID: mission.ExternalUserID,
		TemplateKey:    tpl.Key,
		Period:         mission.Period,
		Outcome:        models.MissionCompleted,
		Rewards:        tpl.Rewards,
		CompletedAt:    &now,
	}
	if err := tx.Create(&history).Error; err != nil {
		return err
	}

	if err := s.updateStreak(tx, mission.ExternalUserID, mission.Period, now); err != nil {
		return err
	}

	if err := tx.Model(&models.UserProgress{}).
		Where("external_user_id = ?", mission.ExternalUserID).
		UpdateColumn("missions_completed", gorm.Expr("missions_completed + 1")).Error; err != nil {
		return err
	}

	s.Metrics.MissionsCompleted.WithLabelValues(string(mission.Period)).Inc()
	s.log.WithUserID(mission.ExternalUserID).WithField("template", tpl.Key).Info("mission completed 🏆")
	s.Notifier.Notify(mission.ExternalUserID, "mission_completed", map[string]string{
		"template_key": tpl.Key,
		"name":         tpl.Name,
	})
	return nil
}

// updateStreak: completion in the period right after the last one extends the
// streak; a gap resets to 1 (this completion counts) and stamps BrokenAt.
// Another completion inside the same period leaves the streak untouched.
func (s *MissionService) updateStreak(tx *gorm.DB, externalUserID string, period models.MissionPeriod, now time.Time) error {
	if period == models.PeriodSpecial || period == models.PeriodPerpetual {
		return nil // streaks only make sense for recurring windows
	}

	var streak models.MissionStreak
	err := tx.Where("external_user_id = ? AND streak_type = ?", externalUserID, string(period)).First(&streak).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		streak = models.MissionStreak{
			ExternalUserID: externalUserID,
			StreakType:     string(period),
		}
	} else if err != nil {
		return err
	}

	currentStart, _ := periodWindow(period, now)
	if streak.LastCompletedAt != nil {
		lastStart, _ := periodWindow(period, *streak.LastCompletedAt)
		switch {
		case lastStart.Equal(currentStart):
			return nil
		case lastStart.Equal(previousPeriodStart(period, currentStart)):
			streak.CurrentStreak++
		default:
			broken := now
			streak.BrokenAt = &broken
			streak.CurrentStreak = 1
		}
	} else {
		streak.CurrentStreak = 1
	}

	if streak.CurrentStreak > streak.BestStreak {
		streak.BestStreak = streak.CurrentStreak
	}
	completed := now
	streak.LastCompletedAt = &completed
	return tx.Save(&streak).Error
}

// ExpireMissions archives assigned missions whose window closed, without
// reward. Driven by the scheduler.
func (s *MissionService) ExpireMissions() {
	now := time.Now().UTC()
	var expired []models.ActiveMission
	err := s.DB.Preload("Template").
		Where("status = ? AND period_end <= ?", models.MissionAssigned, now).
		Find(&expired).Error
	if err != nil {
		s.log.WithError(err).Error("mission expiry sweep failed")
		return
	}

	for _, m := range expired {
		key := ""
		if m.Template != nil {
			key = m.Template.Key
		}
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.ActiveMission{}).
				Where("id = ? AND status = ?", m.ID, models.MissionAssigned).
				Update("status", models.MissionExpired)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			return tx.Create(&models.MissionHistory{
				ID:             uuid.NewString(),
				ExternalUserID: m.ExternalUserID,
				TemplateKey:    key,
				Period:         m.Period,
				Outcome:        models.MissionExpired,
			}).Error
		})
		if err != nil {
			s.log.WithField("mission_id", m.ID).WithError(err).Error("could not expire mission")
		}
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("missions expired")
	}
}

// MissionStatusEntry is the read model for one active mission.
type MissionStatusEntry struct {
	Mission  models.ActiveMission     `json:"mission"`
	Progress []models.MissionProgress `json:"progress"`
	Percent  int                      `json:"percent"`
}

// MissionStatus returns the user's open and completed-this-period missions
// with per-requirement progress.
func (s *MissionService) MissionStatus(externalUserID string) ([]MissionStatusEntry, error) {
	var missions []models.ActiveMission
	err := s.DB.Preload("Template").
		Where("external_user_id = ? AND status IN ?", externalUserID,
			[]models.MissionStatus{models.MissionAssigned, models.MissionCompleted}).
		Order("assigned_at DESC").
		Find(&missions).Error
	if err != nil {
		return nil, err
	}

	entries := make([]MissionStatusEntry, 0, len(missions))
	for _, m := range missions {
		var rows []models.MissionProgress
		if err := s.DB.Where("mission_id = ?", m.ID).Find(&rows).Error; err != nil {
			return nil, err
		}
		var current, target int64
		for _, r := range rows {
			current += r.CurrentValue
			target += r.TargetValue
		}
		percent := 0
		if target > 0 {
			percent = int(current * 100 / target)
		}
		entries = append(entries, MissionStatusEntry{Mission: m, Progress: rows, Percent: percent})
	}
	return entries, nil
}

// ClaimMission transitions completed→claimed for reward surfaces that want an
// explicit acknowledgement step.
func (s *MissionService) ClaimMission(externalUserID, missionID string) (*models.ActiveMission, error) {
	var mission models.ActiveMission
	err := s.DB.Where("id = ? AND external_user_id = ?", missionID, externalUserID).First(&mission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: mission not found", ErrValidationError)
		}
		return nil, err
	}
	if mission.Status != models.MissionCompleted {
		return nil, fmt.Errorf("%w: mission is not completed", ErrRequirementNotMet)
	}
	now := time.Now().UTC()
	if err := s.DB.Model(&mission).Updates(map[string]interface{}{
		"status":     models.MissionClaimed,
		"claimed_at": now,
	}).Error; err != nil {
		return nil, err
	}
	mission.Status = models.MissionClaimed
	mission.ClaimedAt = &now
	return &mission, nil
}

// periodWindow returns [start, end) of the period containing t (UTC).
func periodWindow(period models.MissionPeriod, t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	switch period {
	case models.PeriodWeekly:
		// ISO-ish week starting Monday.
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case models.PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	case models.PeriodSpecial, models.PeriodPerpetual:
		// Effectively unbounded; expiry is driven by template config elsewhere.
		start := t.Truncate(24 * time.Hour)
		return start, start.AddDate(10, 0, 0)
	default: // daily
		start := t.Truncate(24 * time.Hour)
		return start, start.AddDate(0, 0, 1)
	}
}

func previousPeriodStart(period models.MissionPeriod, currentStart time.Time) time.Time {
	switch period {
	case models.PeriodWeekly:
		return currentStart.AddDate(0, 0, -7)
	case models.PeriodMonthly:
		return currentStart.AddDate(0, -1, 0)
	default:
		return currentStart.AddDate(0, 0, -1)
	}
}
