package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"dgt-economy-system/utils"
)

// EconomyScheduler drives the periodic jobs: vault maturity, mission expiry
// and failed-event reprocessing. Wall-clock-dependent work runs here instead
// of blocking request handlers.
type EconomyScheduler struct {
	sched gocron.Scheduler
	log   *utils.Logger
}

// StartEconomyScheduler wires the recurring jobs. reprocess is supplied by
// the achievement worker so the scheduler stays free of queue internals.
func StartEconomyScheduler(vaults *VaultService, missions *MissionService, reprocess func()) (*EconomyScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &EconomyScheduler{sched: sched, log: utils.NewLogger("scheduler")}

	// Every minute: flag matured vaults as pending_unlock.
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(vaults.SweepMatured),
	); err != nil {
		return nil, err
	}

	// Every minute: archive missions whose period closed before completion.
	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(missions.ExpireMissions),
	); err != nil {
		return nil, err
	}

	// Every five minutes: requeue failed achievement events.
	if _, err := sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(reprocess),
	); err != nil {
		return nil, err
	}

	sched.Start()
	s.log.Info("economy scheduler started")
	return s, nil
}

// Stop shuts the scheduler down, letting running jobs finish.
func (s *EconomyScheduler) Stop() {
	if err := s.sched.Shutdown(); err != nil {
		s.log.WithError(err).Warn("scheduler shutdown")
	}
}
