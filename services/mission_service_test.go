package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dgt-economy-system/models"
)

func seedTemplate(t *testing.T, env *testEnv, name string, requirements, rewards map[string]int64) *models.MissionTemplate {
	t.Helper()
	tpl, err := env.missions.UpsertTemplate(&models.MissionTemplate{
		Name:         name,
		Type:         models.MissionCount,
		Period:       models.PeriodDaily,
		Requirements: requirements,
		Rewards:      rewards,
		Active:       true,
	})
	require.NoError(t, err)
	return tpl
}

func submitAndProcess(t *testing.T, env *testEnv, userID, eventType string, payload map[string]string) {
	t.Helper()
	ev, err := env.missions.SubmitEvent("", userID, eventType, payload)
	require.NoError(t, err)
	require.NoError(t, env.missions.ProcessEvent(ev))
}

func activeMission(t *testing.T, env *testEnv, missionID string) models.ActiveMission {
	t.Helper()
	var m models.ActiveMission
	require.NoError(t, env.db.Where("id = ?", missionID).First(&m).Error)
	return m
}

func TestMissionCompletesExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 0)
	env.fund(t, models.TreasuryAccountID, 100_000)

	seedTemplate(t, env, "Daily Contributor",
		map[string]int64{"posts_created": 2, "tips_sent": 1},
		map[string]int64{"dgt": 100, "xp": 50})

	assigned, err := env.missions.AssignMissions("alice")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	missionID := assigned[0].ID

	// Requirements fill in any order; nothing completes until all are met.
	submitAndProcess(t, env, "alice", "tips_sent", nil)
	assert.Equal(t, models.MissionAssigned, activeMission(t, env, missionID).Status)

	submitAndProcess(t, env, "alice", "posts_created", nil)
	assert.Equal(t, models.MissionAssigned, activeMission(t, env, missionID).Status)
	assert.Equal(t, int64(0), env.balance(t, "alice"))

	submitAndProcess(t, env, "alice", "posts_created", nil)
	assert.Equal(t, models.MissionCompleted, activeMission(t, env, missionID).Status)
	assert.Equal(t, int64(100), env.balance(t, "alice"))

	prog, err := env.progression.EnsureProgressRecord("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), prog.TotalXP)
	assert.Equal(t, int64(1), prog.MissionsCompleted)

	t.Run("RedeliveredEventIsNoop", func(t *testing.T) {
		var done models.AchievementEvent
		require.NoError(t, env.db.Where("event_type = ?", "tips_sent").First(&done).Error)
		require.Equal(t, models.EventCompleted, done.Status)

		require.NoError(t, env.missions.ProcessEvent(&done))
		assert.Equal(t, int64(100), env.balance(t, "alice"), "reward must not double-pay")
	})

	t.Run("OverflowEventsDoNotOvershoot", func(t *testing.T) {
		submitAndProcess(t, env, "alice", "posts_created", nil)
		var rows []models.MissionProgress
		require.NoError(t, env.db.Where("mission_id = ?", missionID).Find(&rows).Error)
		for _, r := range rows {
			assert.LessOrEqual(t, r.CurrentValue, r.TargetValue)
		}
		assert.Equal(t, int64(100), env.balance(t, "alice"))
	})
}

func TestMissionThresholdProgress(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "bob", 0)
	env.fund(t, models.TreasuryAccountID, 100_000)

	seedTemplate(t, env, "Big Tipper",
		map[string]int64{"tip_volume": 100},
		map[string]int64{"dgt": 500})

	assigned, err := env.missions.AssignMissions("bob")
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	// Threshold events carry their magnitude; progress is bounded at target.
	submitAndProcess(t, env, "bob", "tip_volume", map[string]string{"amount": "60"})
	assert.Equal(t, models.MissionAssigned, activeMission(t, env, assigned[0].ID).Status)

	submitAndProcess(t, env, "bob", "tip_volume", map[string]string{"amount": "60"})
	assert.Equal(t, models.MissionCompleted, activeMission(t, env, assigned[0].ID).Status)

	var row models.MissionProgress
	require.NoError(t, env.db.Where("mission_id = ?", assigned[0].ID).First(&row).Error)
	assert.Equal(t, int64(100), row.CurrentValue)
	assert.Equal(t, int64(500), env.balance(t, "bob"))
}

func TestMissionAssignmentRules(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "carol", 0)

	t.Run("NoDuplicateAssignmentSamePeriod", func(t *testing.T) {
		seedTemplate(t, env, "Daily Post", map[string]int64{"posts_created": 1}, map[string]int64{"xp": 10})

		first, err := env.missions.AssignMissions("carol")
		require.NoError(t, err)
		assert.Len(t, first, 1)

		second, err := env.missions.AssignMissions("carol")
		require.NoError(t, err)
		assert.Empty(t, second)
	})

	t.Run("LevelWindowFiltersTemplates", func(t *testing.T) {
		_, err := env.missions.UpsertTemplate(&models.MissionTemplate{
			Name:         "Veteran Only",
			Type:         models.MissionCount,
			Period:       models.PeriodDaily,
			Requirements: map[string]int64{"posts_created": 1},
			Rewards:      map[string]int64{"xp": 10},
			MinLevel:     10,
			Active:       true,
		})
		require.NoError(t, err)

		assigned, err := env.missions.AssignMissions("carol")
		require.NoError(t, err)
		assert.Empty(t, assigned, "level 1 user must not receive a min-level-10 mission")
	})

	t.Run("PrerequisiteGatesAssignment", func(t *testing.T) {
		_, err := env.missions.UpsertTemplate(&models.MissionTemplate{
			Name:          "Advanced Quest",
			Type:          models.MissionCount,
			Period:        models.PeriodDaily,
			Requirements:  map[string]int64{"posts_created": 1},
			Rewards:       map[string]int64{"xp": 10},
			Prerequisites: []string{"daily-post"},
			Active:        true,
		})
		require.NoError(t, err)

		assigned, err := env.missions.AssignMissions("carol")
		require.NoError(t, err)
		assert.Empty(t, assigned, "prerequisite not completed yet")

		// Complete the prerequisite; the advanced quest opens up.
		submitAndProcess(t, env, "carol", "posts_created", nil)
		assigned, err = env.missions.AssignMissions("carol")
		require.NoError(t, err)
		require.Len(t, assigned, 1)
		assert.Equal(t, "advanced-quest", assigned[0].Template.Key)
	})
}

func TestMissionStreaks(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "dana", 0)

	completeDaily := func(name string) {
		seedTemplate(t, env, name, map[string]int64{"posts_created": 1}, map[string]int64{"xp": 5})
		_, err := env.missions.AssignMissions("dana")
		require.NoError(t, err)
		submitAndProcess(t, env, "dana", "posts_created", nil)
	}

	loadStreak := func() models.MissionStreak {
		var s models.MissionStreak
		require.NoError(t, env.db.Where("external_user_id = ? AND streak_type = ?", "dana", "daily").First(&s).Error)
		return s
	}

	completeDaily("Streak Day A")
	streak := loadStreak()
	assert.Equal(t, 1, streak.CurrentStreak)
	assert.Equal(t, 1, streak.BestStreak)

	// Pretend the last completion happened yesterday: the next one extends.
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, env.db.Model(&models.MissionStreak{}).
		Where("id = ?", streak.ID).
		Update("last_completed_at", yesterday).Error)

	completeDaily("Streak Day B")
	streak = loadStreak()
	assert.Equal(t, 2, streak.CurrentStreak)
	assert.Equal(t, 2, streak.BestStreak)

	// A multi-day gap resets to 1 (today's completion counts); best survives.
	threeDaysAgo := time.Now().UTC().AddDate(0, 0, -3)
	require.NoError(t, env.db.Model(&models.MissionStreak{}).
		Where("id = ?", streak.ID).
		Updates(map[string]interface{}{"last_completed_at": threeDaysAgo, "current_streak": 5, "best_streak": 5}).Error)

	completeDaily("Streak Day C")
	streak = loadStreak()
	assert.Equal(t, 1, streak.CurrentStreak)
	assert.Equal(t, 5, streak.BestStreak)
	assert.NotNil(t, streak.BrokenAt)

	// Another completion inside the same day leaves the streak untouched.
	completeDaily("Streak Day D")
	streak = loadStreak()
	assert.Equal(t, 1, streak.CurrentStreak)
}

func TestMissionExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "erin", 0)

	seedTemplate(t, env, "Stale Mission", map[string]int64{"posts_created": 1}, map[string]int64{"xp": 10})
	assigned, err := env.missions.AssignMissions("erin")
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	require.NoError(t, env.db.Model(&models.ActiveMission{}).
		Where("id = ?", assigned[0].ID).
		Update("period_end", time.Now().UTC().Add(-time.Minute)).Error)

	env.missions.ExpireMissions()

	assert.Equal(t, models.MissionExpired, activeMission(t, env, assigned[0].ID).Status)

	var hist models.MissionHistory
	require.NoError(t, env.db.Where("external_user_id = ? AND outcome = ?", "erin", models.MissionExpired).First(&hist).Error)
	assert.Equal(t, "stale-mission", hist.TemplateKey)

	// Events that arrive after the window closed change nothing.
	submitAndProcess(t, env, "erin", "posts_created", nil)
	assert.Equal(t, models.MissionExpired, activeMission(t, env, assigned[0].ID).Status)

	prog, err := env.progression.EnsureProgressRecord("erin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), prog.TotalXP, "expired missions pay nothing")
}

func TestMissionStatusAndClaim(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "fred", 0)

	seedTemplate(t, env, "Two Step",
		map[string]int64{"posts_created": 2},
		map[string]int64{"xp": 10})

	assigned, err := env.missions.AssignMissions("fred")
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	_, err = env.missions.ClaimMission("fred", assigned[0].ID)
	require.ErrorIs(t, err, ErrRequirementNotMet)

	submitAndProcess(t, env, "fred", "posts_created", nil)

	status, err := env.missions.MissionStatus("fred")
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, 50, status[0].Percent)

	submitAndProcess(t, env, "fred", "posts_created", nil)

	claimed, err := env.missions.ClaimMission("fred", assigned[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.MissionClaimed, claimed.Status)
	assert.NotNil(t, claimed.ClaimedAt)
}

func TestSubmitEventIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.missions.SubmitEvent("evt-1", "gail", "posts_created", nil)
	require.NoError(t, err)

	second, err := env.missions.SubmitEvent("evt-1", "gail", "posts_created", map[string]string{"ignored": "yes"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, env.db.Model(&models.AchievementEvent{}).Where("event_id = ?", "evt-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
