package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/feed"
)

// FeedLocker serializes refresh execution per feed.
type FeedLocker interface {
	WithFeedLock(ctx context.Context, feedID uint, fn func() error) error
}

// Refresher executes one refresh run for a feed.
type Refresher interface {
	Refresh(ctx context.Context, f *feed.Feed) error
}

// Scheduler periodically scans the enabled feeds, claims the due ones by
// advancing their schedule row, and hands each claimed feed to a worker
// pool for refresh.
type Scheduler struct {
	logger    *zap.Logger
	feeds     feed.FeedStore
	schedules feed.ScheduleStore
	guard     FeedLocker
	refresher Refresher

	interval    time.Duration
	workerCount int

	queue  chan feed.Feed
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(
	logger *zap.Logger,
	feeds feed.FeedStore,
	schedules feed.ScheduleStore,
	guard FeedLocker,
	refresher Refresher,
	interval time.Duration,
	workerCount int,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger:      logger,
		feeds:       feeds,
		schedules:   schedules,
		guard:       guard,
		refresher:   refresher,
		interval:    interval,
		workerCount: workerCount,
		queue:       make(chan feed.Feed, 300),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(time.Now())

		for {
			select {
			case <-s.ctx.Done():
				return
			case now := <-ticker.C:
				s.Tick(now)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// QueueDepth reports the amount of claimed feeds awaiting a worker.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(now time.Time) {
	feeds, err := s.feeds.Enabled()
	if err != nil {
		s.logger.Error("unable to list enabled feeds",
			zap.Error(err),
		)
		return
	}

	for _, f := range feeds {
		claimed, err := s.claim(&f, now)
		if err != nil {
			s.logger.Error("unable to schedule feed",
				zap.Uint("feed_id", f.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		s.enqueue(f)
	}
}

// claim decides whether the feed is due and advances its schedule row. The
// advance happens before the run executes, at most one concurrent runner
// wins a due window.
func (s *Scheduler) claim(f *feed.Feed, now time.Time) (bool, error) {
	nextRunAt, err := s.nextRun(f.CronExpression, now)
	if err != nil {
		return false, errors.Wrapf(err, "invalid cron expression %q", f.CronExpression)
	}

	schedule, err := s.schedules.Get(f.ID)
	if err != nil {
		return false, err
	}

	if schedule == nil {
		created, err := s.schedules.CreateIfAbsent(&feed.Schedule{
			FeedID:    f.ID,
			LastRunAt: now,
			NextRunAt: nextRunAt,
		})
		if err != nil {
			return false, err
		}
		if !created {
			s.logger.Debug("schedule already claimed by another runner",
				zap.Uint("feed_id", f.ID),
			)
			return false, nil
		}

		return true, nil
	}

	if schedule.NextRunAt.After(now) {
		return false, nil
	}

	won, err := s.schedules.Advance(schedule, now, nextRunAt)
	if err != nil {
		return false, err
	}
	if !won {
		s.logger.Debug("schedule already claimed by another runner",
			zap.Uint("feed_id", f.ID),
		)
		return false, nil
	}

	return true, nil
}

func (s *Scheduler) nextRun(expression string, now time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expression)
	if err != nil {
		return time.Time{}, err
	}

	return cronSchedule.Next(now), nil
}

func (s *Scheduler) enqueue(f feed.Feed) {
	select {
	case s.queue <- f:
	default:
		s.logger.Warn("refresh queue is full, dropping trigger",
			zap.Uint("feed_id", f.ID),
		)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.queue:
			s.execute(f)
		}
	}
}

func (s *Scheduler) execute(f feed.Feed) {
	err := s.guard.WithFeedLock(s.ctx, f.ID, func() error {
		return s.refresher.Refresh(s.ctx, &f)
	})
	if err != nil {
		// the workflow already wrote the durable failure record
		s.logger.Error("run execution failed",
			zap.Uint("feed_id", f.ID),
			zap.Error(err),
		)
	}
}
