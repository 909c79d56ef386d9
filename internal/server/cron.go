package server

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// CronServer adapts a cron scheduler to the Kratos server lifecycle, so
// scheduled jobs start and stop with the rest of the application.
type CronServer struct {
	cron    *cron.Cron
	onStart func(context.Context)
	logger  *log.Helper
}

// NewCronServer wraps a configured scheduler. When onStart is non-nil it
// runs once in the background as soon as the server starts, for jobs
// that should not wait out their first tick.
func NewCronServer(c *cron.Cron, onStart func(context.Context), logger log.Logger) *CronServer {
	return &CronServer{
		cron:    c,
		onStart: onStart,
		logger:  log.NewHelper(logger),
	}
}

// Start begins the schedule.
func (s *CronServer) Start(ctx context.Context) error {
	if s.onStart != nil {
		go s.onStart(ctx)
	}
	s.cron.Start()
	s.logger.Info("cron schedule started")
	return nil
}

// Stop halts the schedule and waits for running jobs, bounded by ctx.
func (s *CronServer) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cron jobs still running at shutdown deadline")
	}
	return nil
}
