// Package cron schedules the recurring refresh job that keeps collected
// records from going stale.
package cron

import (
	"context"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"

	"github.com/priyxstudio/curator/config"
	"github.com/priyxstudio/curator/internal/queue"
	"github.com/priyxstudio/curator/modules"
)

var (
	o  sync.Once
	s  gocron.Scheduler
	mu sync.Mutex
)

// Scheduled starts the background refresh job. On every tick each running
// module that can refresh its own records gets a low priority task enqueued,
// so scheduled maintenance never starves interactive collection work.
func Scheduled(sup *modules.Supervisor, q *queue.Queue) error {
	mu.Lock()
	defer mu.Unlock()

	var err error
	o.Do(func() {
		s, err = gocron.NewScheduler(gocron.WithLocation(config.Get().Location()))
		if err != nil {
			err = errors.Wrap(err, "cron: failed to create scheduler")
			return
		}

		interval := config.Get().Collection.RefreshEvery()
		if interval <= 0 {
			log.Info("scheduled refresh is disabled")
			return
		}
		_, err = s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				enqueueRefresh(sup, q)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			err = errors.Wrap(err, "cron: failed to register refresh job")
			return
		}

		log.WithField("interval", interval.String()).Info("scheduled background refresh")
		s.Start()
	})
	return err
}

// Shutdown stops the scheduler and waits for any in-flight tick to return.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if s != nil {
		if err := s.Shutdown(); err != nil {
			log.WithError(err).Warn("failed to shut down scheduler")
		}
	}
}

func enqueueRefresh(sup *modules.Supervisor, q *queue.Queue) {
	for _, h := range sup.Running() {
		refresher, ok := h.Module().(modules.Refresher)
		if !ok {
			continue
		}

		name := h.Name()
		q.Enqueue(queue.NewFuncTask("refresh_stale", name, queue.PriorityLow, func(ctx context.Context) error {
			return refresher.RefreshStale(ctx)
		}))
		log.WithField("module", name).Debug("queued stale refresh")
	}
}
