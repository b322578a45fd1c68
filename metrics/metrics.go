package metrics

import (
	"expvar"
	"time"
)

var (
	// Uptime stores the timestamp of the Worker boot
	Uptime = expvar.NewInt("uptime")

	// RefreshesStarted counts started feed refresh runs
	RefreshesStarted = expvar.NewInt("refreshes_started")

	// RefreshesFailed counts feed refresh runs that aborted at a stage
	RefreshesFailed = expvar.NewInt("refreshes_failed")

	// RefreshesSkipped counts runs skipped because the feed lock was held
	RefreshesSkipped = expvar.NewInt("refreshes_skipped")

	// EntriesImported counts newly persisted feed entries
	EntriesImported = expvar.NewInt("entries_imported")

	// PostsPublished counts posts successfully published to FreeFeed
	PostsPublished = expvar.NewInt("posts_published")

	// PostsFailed counts posts that errored during publishing
	PostsFailed = expvar.NewInt("posts_failed")
)

// Init starts metrics collection
func Init() {
	Uptime.Set(time.Now().Unix())
}
