package main

import (
	"context"

	"flightwatch/internal/biz"
	"flightwatch/internal/conf"
	"flightwatch/internal/server"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newCycleCron schedules the collection cycle and the nightly flight
// purge. The first cycle runs as soon as the service starts, so a fresh
// deployment does not wait out a full interval before collecting.
func newCycleCron(uc *biz.CollectorUsecase, c *conf.Collector, logger log.Logger) (*server.CronServer, error) {
	helper := log.NewHelper(logger)
	interval := c.Interval.AsDuration()

	runCycle := func(ctx context.Context) {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		if _, err := uc.RunCycle(cctx); err != nil {
			helper.Errorw("msg", "collection cycle failed", "error", err)
		}
	}

	cr := cron.New()
	if _, err := cr.AddFunc("@every "+interval.String(), func() {
		runCycle(context.Background())
	}); err != nil {
		return nil, err
	}
	if _, err := cr.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		removed, err := uc.PurgeStaleFlights(ctx)
		if err != nil {
			helper.Errorw("msg", "flight purge failed", "error", err)
			return
		}
		if removed > 0 {
			helper.Infow("msg", "stale flights purged", "removed", removed)
		}
	}); err != nil {
		return nil, err
	}

	return server.NewCronServer(cr, runCycle, logger), nil
}
