// Package automation hoists the periodic work that would otherwise be
// embedded ad hoc in route handlers — node analytics refresh, entity
// report warm-up, snapshot building, error-count reset, and health
// sampling — into a single cron-driven scheduler. Relation aggregation has
// no scheduled job here.
package automation

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/flowscope/iac/infrastructure/logging"
)

// Job is one scheduled unit of periodic work. Name identifies it in logs;
// Schedule is a standard five-field cron expression or a descriptor such as
// "@every 5m" (intervals below one second run once a second); Run performs the work
// and returns an error to log (scheduler jobs never abort the process).
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler wraps robfig/cron to drive C9/C10/C12/C13's periodic passes
// and C3's errorCount window reset on independent cadences.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
	ctx  context.Context
}

// NewScheduler constructs a Scheduler bound to ctx; every job run is
// canceled the moment ctx is done.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  logging.Default(),
		ctx:  ctx,
	}
}

// AddJob registers job on its cron schedule. An invalid schedule expression
// is a configuration error and is returned immediately rather than
// discovered later when the job silently never fires.
func (s *Scheduler) AddJob(job Job) error {
	_, err := s.cron.AddFunc(job.Schedule, func() {
		entry := s.log.WithField("job", job.Name)
		entry.Debug("scheduled job starting")
		if err := job.Run(s.ctx); err != nil {
			entry.WithError(err).Error("scheduled job failed")
			return
		}
		entry.Debug("scheduled job completed")
	})
	return err
}

// Start launches the cron scheduler's background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop blocks until any in-flight job finishes, then halts scheduling.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
