package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/feed"
)

// Run carries the context, logger and stats bag of one feed refresh.
type Run struct {
	Launch time.Time
	Feed   *feed.Feed
	Stats  Stats

	ctx    context.Context
	logger *zap.Logger
}

func NewRun(f *feed.Feed) *Run {
	return &Run{
		Launch: time.Now(),
		Feed:   f,
		Stats:  NewStats(),
	}
}
