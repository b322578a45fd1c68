package feed

import "time"

// NewEntry describes one parsed entry before persistence.
type NewEntry struct {
	UID         string
	PublishedAt time.Time
	RawData     []byte
}

type FeedStore interface {
	Enabled() ([]Feed, error)
	ByID(id uint) (*Feed, error)
	SetState(feedID uint, state State) error
	Delete(feedID uint) error
}

type ScheduleStore interface {
	// Get returns nil without error when no schedule row exists yet.
	Get(feedID uint) (*Schedule, error)

	// CreateIfAbsent inserts the schedule row, reporting false when another
	// runner created it first.
	CreateIfAbsent(schedule *Schedule) (bool, error)

	// Advance applies last/next run timestamps only if the row's next_run_at
	// is still the one the caller read, reporting whether the update won.
	Advance(schedule *Schedule, lastRunAt, nextRunAt time.Time) (bool, error)
}

type EntryStore interface {
	// FilterNewUIDs returns the subset of uids not present in the dedup
	// ledger for the feed, in a single indexed query.
	FilterNewUIDs(feedID uint, uids []string) ([]string, error)

	// PersistEntries inserts pending entries and their ledger rows in one
	// transaction, absorbing duplicate-key conflicts, and returns the
	// canonical persisted rows.
	PersistEntries(feedID uint, entries []NewEntry) ([]Entry, error)

	// Pending returns the feed's entries still awaiting normalization.
	Pending(feedID uint) ([]Entry, error)

	SetEntryStatus(entryID uint, status EntryStatus) error
}

type PostStore interface {
	CreatePosts(posts []*Post) error

	// Enqueued returns the feed's publishable posts ordered by published_at
	// ascending.
	Enqueued(feedID uint) ([]Post, error)

	SetPublished(postID uint, externalPostID string) error
	SetPostStatus(postID uint, status PostStatus) error
}

type MetricStore interface {
	// AddDailyMetric upserts the rollup row for the given day, adding the
	// counts to any existing row.
	AddDailyMetric(feedID uint, date time.Time, postsCount, invalidPostsCount int) error
}

type EventStore interface {
	Add(event *Event) error
}
