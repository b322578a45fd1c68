package refresh

import (
	"context"
	"fmt"
	"time"

	lock "github.com/bsm/redis-lock"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/metrics"
)

const lockTimeout = 1 * time.Hour

// Guard serializes refresh runs per feed with a non-blocking redis lock. A
// run attempted while another one is in flight for the same feed is skipped,
// not queued.
type Guard struct {
	logger *zap.Logger
	redis  *redis.Client
}

func NewGuard(logger *zap.Logger, redisClient *redis.Client) *Guard {
	return &Guard{
		logger: logger,
		redis:  redisClient,
	}
}

func (g *Guard) lockKey(feedID uint) string {
	return fmt.Sprintf("refeed:worker:feed:%d:run-lock", feedID)
}

// WithFeedLock runs fn while holding the feed's exclusive run lock.
func (g *Guard) WithFeedLock(ctx context.Context, feedID uint, fn func() error) error {
	runLock := lock.New(
		g.redis,
		g.lockKey(feedID),
		&lock.Options{
			LockTimeout: lockTimeout,
			RetryCount:  0, // do not retry
		},
	)

	locked, err := runLock.LockWithContext(ctx)
	if err != nil {
		return errors.Wrap(err, "error acquring feed lock")
	}
	if !locked {
		g.logger.Info("skipped run, another run is already in progress",
			zap.Uint("feed_id", feedID),
		)
		metrics.RefreshesSkipped.Add(1)
		return nil
	}
	defer runLock.Unlock() // nolint: errcheck

	return fn()
}
