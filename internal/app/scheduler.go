/**
 * @description
 * Cron scheduler setup for the periodic balance refresh and bank cache cleanup.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs holds the work the scheduler runs.
type Jobs struct {
	Sync    *SyncService
	Banks   *BankDirectory
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// RefreshAllBalances runs a bulk refresh over every active trading account.
func (j *Jobs) RefreshAllBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout())
	defer cancel()

	summary, err := j.Sync.SyncAllAccounts(ctx)
	if err != nil {
		j.Logger.WithError(err).Error("scheduled balance refresh failed")
		return
	}
	j.Logger.WithFields(logrus.Fields{
		"total":   summary.Total,
		"synced":  summary.Synced,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}).Info("scheduled balance refresh finished")
}

// PruneBankCache drops expired bank directory entries.
func (j *Jobs) PruneBankCache() {
	if j.Banks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := j.Banks.PruneCache(ctx); err != nil {
		j.Logger.WithError(err).Warn("bank cache cleanup failed")
	}
}

func (j *Jobs) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return 30 * time.Minute
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron          *cron.Cron
	jobs          *Jobs
	logger        logrus.FieldLogger
	syncSchedule  string
	cacheSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, syncSchedule string, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "scheduler")
	if jobs.Logger == nil {
		jobs.Logger = logger
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))

	return &Scheduler{
		cron:          c,
		jobs:          jobs,
		logger:        logger,
		syncSchedule:  syncSchedule,
		cacheSchedule: "@hourly",
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.syncSchedule, s.jobs.RefreshAllBalances); err != nil {
		s.logger.WithError(err).WithField("schedule", s.syncSchedule).Error("failed to schedule balance refresh job")
		return err
	}
	s.logger.WithField("schedule", s.syncSchedule).Info("scheduled balance refresh job")

	if _, err := s.cron.AddFunc(s.cacheSchedule, s.jobs.PruneBankCache); err != nil {
		s.logger.WithError(err).Error("failed to schedule bank cache cleanup job")
	} else {
		s.logger.WithField("schedule", s.cacheSchedule).Info("scheduled bank cache cleanup job")
	}

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
