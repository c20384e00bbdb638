package automation

import (
	"context"
	"time"

	"github.com/flowscope/iac/infrastructure/logging"
	"github.com/flowscope/iac/infrastructure/metrics"
	"github.com/flowscope/iac/services/aggregation"
	"github.com/flowscope/iac/services/health"
	"github.com/flowscope/iac/services/ingestion"
)

// cron cadences for the periodic passes. Snapshot windows are rebuilt far
// less often than the warm passes run, since a 24h snapshot built every few
// minutes would just reread the same activity over and over.
const (
	analyticsWarmSchedule = "@every 5m"
	entityWarmSchedule    = "@every 10m"
	healthSampleSchedule  = "@every 1m"
	errorResetSchedule    = "@every 1h"
	snapshot24hSchedule   = "@every 1h"
	snapshot7dSchedule    = "@every 6h"
	snapshot30dSchedule   = "@every 24h"
)

// Deps bundles the already-constructed components a default job set needs.
// Any field may be left nil to skip registering the jobs that depend on it.
type Deps struct {
	SyncStates *ingestion.SyncStateStore
	Analytics  *aggregation.NodeAnalyticsBuilder
	Entities   *aggregation.EntityAggregator
	EntityBook *aggregation.EntityBook
	Snapshots  *aggregation.SnapshotBuilder
	Metrics    *metrics.Metrics

	// Networks lists the chains periodic passes iterate over.
	Networks []string
	// TrackedAddresses lists the addresses C9's warm pass keeps hot.
	TrackedAddresses []string
	// StartTime anchors the uptime gauge the health-sample job reports;
	// the zero value disables uptime reporting.
	StartTime time.Time
}

// RegisterDefaultJobs wires C9/C10/C12/C13's periodic passes and C3's
// errorCount window reset onto sched, skipping any job whose dependency in
// deps is nil. No job runs C8 relation aggregation.
func RegisterDefaultJobs(sched *Scheduler, deps Deps) error {
	log := logging.Default()

	if deps.SyncStates != nil {
		if err := sched.AddJob(Job{
			Name:     "reset-error-counts",
			Schedule: errorResetSchedule,
			Run: func(ctx context.Context) error {
				deps.SyncStates.ResetErrorCounts()
				return nil
			},
		}); err != nil {
			return err
		}

		if err := sched.AddJob(Job{
			Name:     "health-sample",
			Schedule: healthSampleSchedule,
			Run: func(ctx context.Context) error {
				report := health.Sample(deps.SyncStates.All())
				for _, alert := range report.Alerts {
					entry := log.WithFields(map[string]interface{}{
						"chain":    alert.Chain,
						"metric":   alert.Metric,
						"value":    alert.Value,
						"severity": alert.Severity,
					})
					entry.Warn(alert.Message)
				}
				if deps.Metrics != nil {
					if report.Overall == health.SeverityCritical {
						deps.Metrics.RecordError("automation", "health_critical", "health-sample")
					}
					if !deps.StartTime.IsZero() {
						deps.Metrics.UpdateUptime(deps.StartTime)
					}
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}

	if deps.Analytics != nil && len(deps.TrackedAddresses) > 0 {
		if err := sched.AddJob(Job{
			Name:     "analytics-warm",
			Schedule: analyticsWarmSchedule,
			Run: func(ctx context.Context) error {
				for _, network := range deps.Networks {
					for _, address := range deps.TrackedAddresses {
						deps.Analytics.Invalidate(address, network)
					}
					if _, err := deps.Analytics.BatchCompute(ctx, deps.TrackedAddresses, network); err != nil {
						if deps.Metrics != nil {
							deps.Metrics.RecordError("automation", "analytics_warm", network)
						}
						return err
					}
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}

	if deps.Entities != nil && deps.EntityBook != nil {
		if err := sched.AddJob(Job{
			Name:     "entity-warm",
			Schedule: entityWarmSchedule,
			Run: func(ctx context.Context) error {
				for _, name := range deps.EntityBook.Names() {
					for _, network := range deps.Networks {
						if _, err := deps.Entities.BuildReport(ctx, name, network, 30*24*time.Hour); err != nil {
							if deps.Metrics != nil {
								deps.Metrics.RecordError("automation", "entity_warm", network)
							}
							return err
						}
					}
				}
				return nil
			},
		}); err != nil {
			return err
		}
	}

	if deps.Snapshots != nil {
		windows := []struct {
			window   aggregation.SnapshotWindow
			schedule string
		}{
			{aggregation.Window24h, snapshot24hSchedule},
			{aggregation.Window7d, snapshot7dSchedule},
			{aggregation.Window30d, snapshot30dSchedule},
		}
		for _, w := range windows {
			w := w
			if err := sched.AddJob(Job{
				Name:     "snapshot-" + string(w.window),
				Schedule: w.schedule,
				Run: func(ctx context.Context) error {
					for _, network := range deps.Networks {
						if _, err := deps.Snapshots.Build(ctx, w.window, network, time.Now()); err != nil {
							if deps.Metrics != nil {
								deps.Metrics.RecordError("automation", "snapshot_build", network)
							}
							return err
						}
					}
					return nil
				},
			}); err != nil {
				return err
			}
		}
	}

	return nil
}
