package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"go-fleet/internal/model"
	"go-fleet/internal/model/sqlquery"
)

// Scheduler purges the history of finished jobs on a cron schedule. It never
// touches running jobs: a job is only purged once its window has ended.
type Scheduler struct {
	storage   model.JobStorage
	retention time.Duration
	schedule  cron.Schedule
	now       func() time.Time
}

func New(storage model.JobStorage, crontabString string, retention time.Duration) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(crontabString)
	if err != nil {
		return nil, fmt.Errorf("failed parsing purge schedule \"%s\": %w", crontabString, err)
	}
	if retention < 0 {
		return nil, fmt.Errorf("negative retention %s", retention)
	}
	return &Scheduler{storage, retention, schedule, time.Now}, nil
}

// Start blocks until ctx is done.
func (skd *Scheduler) Start(ctx context.Context) {
	runner := cron.New()
	runner.Schedule(skd.schedule, cron.FuncJob(func() { skd.Purge(ctx) }))
	runner.Start()
	log.WithFields(log.Fields{
		"next":      skd.schedule.Next(skd.now()),
		"retention": skd.retention,
	}).Info("Purge scheduler started")

	<-ctx.Done()
	<-runner.Stop().Done()
}

func (skd *Scheduler) Purge(ctx context.Context) int64 {
	timeoutCtx, cancel := context.WithTimeout(ctx, sqlquery.DatabaseOperationTimeout)
	defer cancel()

	before := skd.now().Add(-skd.retention)
	purged, err := skd.storage.PurgeExpired(timeoutCtx, before)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Error purging expired jobs")
		return 0
	}
	log.WithFields(log.Fields{
		"purged": purged,
		"before": before,
	}).Info("Purged expired jobs")
	return purged
}
