package workers

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"dgt-economy-system/models"
	"dgt-economy-system/services"
	"dgt-economy-system/testutil"
	"dgt-economy-system/utils"
)

func newTestWorker(t *testing.T) (*AchievementWorker, *services.MissionService, *gorm.DB) {
	t.Helper()

	db := testutil.OpenTestDB(t)
	metrics := utils.NewEconomyMetricsWith(prometheus.NewRegistry())
	cfg := services.NewConfigService()
	notifier := services.NoopNotifier{}

	ledger := services.NewLedgerService(db, metrics)
	require.NoError(t, ledger.EnsureSystemAccounts())
	progression := services.NewProgressionService(db, ledger, cfg, metrics, notifier)
	missions := services.NewMissionService(db, ledger, progression, metrics, notifier)

	return NewAchievementWorker(db, missions, metrics), missions, db
}

func TestDrainPending(t *testing.T) {
	worker, missions, db := newTestWorker(t)

	_, err := missions.UpsertTemplate(&models.MissionTemplate{
		Name:         "Chatter",
		Type:         models.MissionCount,
		Period:       models.PeriodDaily,
		Requirements: map[string]int64{"messages_sent": 3},
		Rewards:      map[string]int64{"xp": 10},
		Active:       true,
	})
	require.NoError(t, err)
	_, err = missions.AssignMissions("alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := missions.SubmitEvent("", "alice", "messages_sent", nil)
		require.NoError(t, err)
	}

	require.NoError(t, worker.DrainPending())

	var pending int64
	require.NoError(t, db.Model(&models.AchievementEvent{}).
		Where("status = ?", models.EventPending).Count(&pending).Error)
	assert.Equal(t, int64(0), pending)

	var mission models.ActiveMission
	require.NoError(t, db.Where("external_user_id = ?", "alice").First(&mission).Error)
	assert.Equal(t, models.MissionCompleted, mission.Status)
}

func TestStartDrainsInterleavedUsers(t *testing.T) {
	worker, missions, db := newTestWorker(t)
	worker.PollEvery = 20 * time.Millisecond

	const target = 5
	_, err := missions.UpsertTemplate(&models.MissionTemplate{
		Name:         "Regular",
		Type:         models.MissionCount,
		Period:       models.PeriodDaily,
		Requirements: map[string]int64{"messages_sent": target},
		Rewards:      map[string]int64{"xp": 10},
		Active:       true,
	})
	require.NoError(t, err)

	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		_, err := missions.AssignMissions(u)
		require.NoError(t, err)
	}

	// Interleave the users' streams so several partitions carry traffic at
	// once while each user's own events keep their submission order.
	for i := 0; i < target; i++ {
		for _, u := range users {
			_, err := missions.SubmitEvent("", u, "messages_sent", nil)
			require.NoError(t, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		var open int64
		require.NoError(t, db.Model(&models.AchievementEvent{}).
			Where("status IN ?", []models.EventStatus{models.EventPending, models.EventProcessing}).
			Count(&open).Error)
		if open == 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("queue did not drain, %d events still open", open)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)

	// No interleaving may lose an increment: each user lands on exactly the
	// target count and a completed mission.
	for _, u := range users {
		var mission models.ActiveMission
		require.NoError(t, db.Where("external_user_id = ?", u).First(&mission).Error)
		assert.Equal(t, models.MissionCompleted, mission.Status, u)

		var progress models.MissionProgress
		require.NoError(t, db.Where("mission_id = ?", mission.ID).First(&progress).Error)
		assert.Equal(t, int64(target), progress.CurrentValue, u)
	}

	var failed int64
	require.NoError(t, db.Model(&models.AchievementEvent{}).
		Where("status = ?", models.EventFailed).Count(&failed).Error)
	assert.Equal(t, int64(0), failed)
}

func TestReprocessFailed(t *testing.T) {
	worker, _, db := newTestWorker(t)

	retryable := models.AchievementEvent{
		EventID:        "evt-retryable",
		ExternalUserID: "bob",
		EventType:      "messages_sent",
		TriggeredAt:    time.Now().UTC(),
		Status:         models.EventFailed,
		Attempts:       2,
	}
	exhausted := models.AchievementEvent{
		EventID:        "evt-exhausted",
		ExternalUserID: "bob",
		EventType:      "messages_sent",
		TriggeredAt:    time.Now().UTC(),
		Status:         models.EventFailed,
		Attempts:       models.MaxEventAttempts,
	}
	require.NoError(t, db.Create(&retryable).Error)
	require.NoError(t, db.Create(&exhausted).Error)

	worker.ReprocessFailed()

	var reloaded models.AchievementEvent
	require.NoError(t, db.Where("event_id = ?", "evt-retryable").First(&reloaded).Error)
	assert.Equal(t, models.EventPending, reloaded.Status)

	var reloadedExhausted models.AchievementEvent
	require.NoError(t, db.Where("event_id = ?", "evt-exhausted").First(&reloadedExhausted).Error)
	assert.Equal(t, models.EventFailed, reloadedExhausted.Status, "attempt ceiling holds")
}

func TestPartitionIsStablePerUser(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	for _, user := range []string{"alice", "bob", "carol"} {
		first := worker.partitionFor(user)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, worker.partitionFor(user))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, worker.Partitions)
	}
}
