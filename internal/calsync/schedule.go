package calsync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	appLog "gametonite/internal/log"
)

// cronLogger routes robfig/cron's logging into the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Schedule drives periodic refreshes and now-marker ticks.
type Schedule struct {
	cron *cron.Cron
}

// StartSchedule registers a window refresh on refreshSpec and a now-marker
// tick on tickSpec (standard cron specs or descriptors such as
// "@every 30s"). onUpdate, if set, receives the layout after each job.
// Overlapping refreshes are skipped rather than queued.
func (c *Controller) StartSchedule(ctx context.Context, refreshSpec, tickSpec string, onUpdate func(Layout)) (*Schedule, error) {
	if refreshSpec == "" && tickSpec == "" {
		return nil, errors.New("calsync: no schedule specs")
	}

	logger := cronLogger{}
	cr := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	notify := func() {
		if onUpdate == nil {
			return
		}
		l, err := c.Layout(ctx)
		if err != nil {
			return
		}
		onUpdate(l)
	}

	if refreshSpec != "" {
		if _, err := cr.AddFunc(refreshSpec, func() {
			a := c.Refresh(ctx)
			if err := a.Wait(ctx); err != nil && !errors.Is(err, ErrStaleFetch) {
				appLog.Warn("scheduled refresh did not apply", "err", err)
			}
			notify()
		}); err != nil {
			return nil, err
		}
	}
	if tickSpec != "" {
		if _, err := cr.AddFunc(tickSpec, func() {
			c.Tick()
			notify()
		}); err != nil {
			return nil, err
		}
	}

	cr.Start()
	return &Schedule{cron: cr}, nil
}

// Stop halts the schedule and waits for running jobs.
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}
