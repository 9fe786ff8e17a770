package workers

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"dgt-economy-system/models"
	"dgt-economy-system/services"
	"dgt-economy-system/utils"
)

// AchievementWorker drains the achievement-event queue. Events are
// partitioned by user id hash onto a fixed set of consumers, so one user's
// events always process in original order while different users run fully in
// parallel.
type AchievementWorker struct {
	DB         *gorm.DB
	Missions   *services.MissionService
	Metrics    *utils.EconomyMetrics
	Partitions int
	PollEvery  time.Duration
	BatchSize  int

	log *utils.Logger
}

func NewAchievementWorker(db *gorm.DB, missions *services.MissionService, metrics *utils.EconomyMetrics) *AchievementWorker {
	return &AchievementWorker{
		DB:         db,
		Missions:   missions,
		Metrics:    metrics,
		Partitions: 4,
		PollEvery:  2 * time.Second,
		BatchSize:  200,
		log:        utils.NewLogger("achievement_worker"),
	}
}

// Start polls for pending events and fans them out until ctx is done.
func (w *AchievementWorker) Start(ctx context.Context) error {
	w.log.WithField("partitions", w.Partitions).Info("achievement worker started")

	channels := make([]chan models.AchievementEvent, w.Partitions)
	for i := range channels {
		channels[i] = make(chan models.AchievementEvent, w.BatchSize)
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.Partitions; i++ {
		ch := channels[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					// Per-event failures are recorded on the row and picked
					// up by the reprocessing sweep; the partition keeps going.
					if err := w.Missions.ProcessEvent(&ev); err != nil {
						w.log.WithField("event_id", ev.EventID).WithError(err).Warn("event left for reprocessing")
					}
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.PollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				for _, ch := range channels {
					close(ch)
				}
				return ctx.Err()
			case <-ticker.C:
				w.pollOnce(ctx, channels)
			}
		}
	})

	err := g.Wait()
	w.log.Info("achievement worker stopped")
	if err == context.Canceled {
		return nil
	}
	return err
}

// pollOnce loads a batch of pending events in insertion order and routes each
// to its user's partition.
func (w *AchievementWorker) pollOnce(ctx context.Context, channels []chan models.AchievementEvent) {
	var pending []models.AchievementEvent
	err := w.DB.Where("status = ?", models.EventPending).
		Order("id ASC").
		Limit(w.BatchSize).
		Find(&pending).Error
	if err != nil {
		w.log.WithError(err).Error("event poll failed")
		return
	}

	var depth int64
	if err := w.DB.Model(&models.AchievementEvent{}).Where("status = ?", models.EventPending).Count(&depth).Error; err == nil {
		w.Metrics.EventQueueDepth.Set(float64(depth))
	}

	for _, ev := range pending {
		idx := w.partitionFor(ev.ExternalUserID)
		select {
		case <-ctx.Done():
			return
		case channels[idx] <- ev:
		}
	}
}

func (w *AchievementWorker) partitionFor(externalUserID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(externalUserID))
	return int(h.Sum32() % uint32(w.Partitions))
}

// ReprocessFailed flips failed events (below the attempt ceiling) back to
// pending so the normal poll picks them up. Users see rewards eventually
// instead of a hard failure for activity that already succeeded.
func (w *AchievementWorker) ReprocessFailed() {
	res := w.DB.Model(&models.AchievementEvent{}).
		Where("status = ? AND attempts < ?", models.EventFailed, models.MaxEventAttempts).
		Update("status", models.EventPending)
	if res.Error != nil {
		w.log.WithError(res.Error).Error("failed-event requeue failed")
		return
	}
	if res.RowsAffected > 0 {
		w.log.WithField("count", res.RowsAffected).Info("failed events requeued")
	}
}

// DrainPending processes everything currently queued, inline. Used by tests;
// production uses Start.
func (w *AchievementWorker) DrainPending() error {
	for {
		var pending []models.AchievementEvent
		err := w.DB.Where("status = ?", models.EventPending).
			Order("id ASC").
			Limit(w.BatchSize).
			Find(&pending).Error
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		for _, ev := range pending {
			if err := w.Missions.ProcessEvent(&ev); err != nil {
				w.log.WithField("event_id", ev.EventID).WithError(err).Warn("event left for reprocessing")
			}
		}
	}
}
