// Command iac runs the on-chain ingestion and aggregation core: it syncs
// configured networks into the unified event ledger and drives the
// periodic aggregation, bootstrap, and health jobs alongside it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowscope/iac/domain/labels"
	"github.com/flowscope/iac/domain/price"
	"github.com/flowscope/iac/infrastructure/logging"
	"github.com/flowscope/iac/infrastructure/metrics"
	"github.com/flowscope/iac/services/aggregation"
	"github.com/flowscope/iac/services/automation"
	"github.com/flowscope/iac/services/bootstrap"
	"github.com/flowscope/iac/services/ingestion"
)

func main() {
	log := logrus.WithField("app", "iac")

	cfg, err := ingestion.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	svc, err := ingestion.NewService(cfg)
	if err != nil {
		log.WithError(err).Fatal("create ingestion service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.InitDefault("iac", "info", "json")

	networks := make([]string, 0, len(cfg.Networks))
	for _, nc := range cfg.Networks {
		networks = append(networks, string(nc.Network))
	}

	labelMap := labels.Default()
	priceProvider := price.ZeroProvider{}
	relations := aggregation.NewRelationAggregator(svc.Store(), priceProvider, labelMap, nil, 30*24*time.Hour)
	analytics := aggregation.NewNodeAnalyticsBuilder(svc.Store(), priceProvider, labelMap, time.Hour)
	entityBook := aggregation.NewEntityBook(nil)
	entities := aggregation.NewEntityAggregator(svc.Store(), priceProvider, labelMap, entityBook)
	snapshots := aggregation.NewSnapshotBuilder(aggregation.NewTrackedAnchorSource(relations, analytics, nil), 10)

	bootQueue := bootstrap.NewQueue(func(ctx context.Context, task *bootstrap.Task, report func(progress int, step string)) error {
		report(10, "fetching relations")
		if _, err := relations.BuildRelations(ctx, task.Address, task.Network); err != nil {
			return err
		}
		report(70, "computing analytics")
		analytics.Invalidate(task.Address, task.Network)
		if _, err := analytics.Get(ctx, task.Address, task.Network); err != nil {
			return err
		}
		report(100, "indexed")
		return nil
	}, func(address string, status bootstrap.Status) {
		log.WithField("address", address).WithField("status", status).Info("bootstrap task finished")
	})

	m := metrics.Init("iac")
	if pg, ok := svc.Store().(*ingestion.PostgresStore); ok {
		pg.SetMetrics(m)
	}
	svc.Orchestrator().SetMetrics(m)

	startTime := time.Now()
	sched := automation.NewScheduler(ctx)
	if err := automation.RegisterDefaultJobs(sched, automation.Deps{
		SyncStates: svc.Orchestrator().SyncStates(),
		Analytics:  analytics,
		Entities:   entities,
		EntityBook: entityBook,
		Snapshots:  snapshots,
		Metrics:    m,
		Networks:   networks,
		StartTime:  startTime,
	}); err != nil {
		log.WithError(err).Fatal("register scheduled jobs")
	}

	svc.Start(ctx)
	sched.Start()
	go func() {
		if err := bootQueue.Run(ctx, 500*time.Millisecond); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("bootstrap queue stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	sched.Stop()
	svc.Stop()
}
