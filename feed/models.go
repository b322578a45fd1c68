package feed

import (
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/jinzhu/gorm/dialects/postgres"
	"github.com/lib/pq"
)

type State string

const (
	StateEnabled  State = "enabled"
	StatePaused   State = "paused"
	StateDisabled State = "disabled"
)

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusProcessed EntryStatus = "processed"
	EntryStatusFailed    EntryStatus = "failed"
)

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusEnqueued  PostStatus = "enqueued"
	PostStatusRejected  PostStatus = "rejected"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelError EventLevel = "error"
)

type EventType string

const (
	EventTypeRefreshStats EventType = "feed refresh stats"
	EventTypeRefreshError EventType = "feed refresh error"
)

// Feed is a configured external content source with a fetch schedule and a
// FreeFeed publishing destination.
type Feed struct {
	gorm.Model
	UserID uint `gorm:"NOT NULL;INDEX"`

	Name           string `gorm:"NOT NULL"`
	URL            string
	CronExpression string `gorm:"NOT NULL"`

	LoaderKey     string
	ProcessorKey  string
	NormalizerKey string

	State State `gorm:"NOT NULL;INDEX"`

	// publishing destination
	TargetGroup       string
	AccessToken       string
	AccessTokenActive bool
}

func (*Feed) TableName() string {
	return "feeds"
}

// CanEnable reports whether the feed satisfies the preconditions for the
// enabled state: all three capability keys and a usable publishing
// destination.
func (f *Feed) CanEnable() bool {
	return f.LoaderKey != "" &&
		f.ProcessorKey != "" &&
		f.NormalizerKey != "" &&
		f.TargetGroup != "" &&
		f.AccessToken != "" &&
		f.AccessTokenActive
}

// Schedule holds the scheduling state of one feed. Mutated only by the
// scheduler, via a conditional update on next_run_at.
type Schedule struct {
	gorm.Model
	FeedID uint `gorm:"NOT NULL;UNIQUE_INDEX"`

	LastRunAt time.Time
	NextRunAt time.Time
}

func (*Schedule) TableName() string {
	return "feed_schedules"
}

// EntryUID is the append-only dedup ledger, written but never read back for
// content.
type EntryUID struct {
	ID     uint `gorm:"primary_key"`
	FeedID uint `gorm:"NOT NULL;UNIQUE_INDEX:idx_feed_entry_uids_feed_uid"`

	UID        string `gorm:"NOT NULL;UNIQUE_INDEX:idx_feed_entry_uids_feed_uid"`
	ImportedAt time.Time
}

func (*EntryUID) TableName() string {
	return "feed_entry_uids"
}

// Entry is one raw imported item of a feed.
type Entry struct {
	gorm.Model
	// nullable, feed destruction orphans entries instead of deleting them
	FeedID uint `gorm:"UNIQUE_INDEX:idx_feed_entries_feed_uid"`

	UID         string `gorm:"NOT NULL;UNIQUE_INDEX:idx_feed_entries_feed_uid"`
	PublishedAt time.Time
	RawData     postgres.Jsonb `gorm:"Type:jsonb"`
	Status      EntryStatus    `gorm:"NOT NULL;INDEX"`
}

func (*Entry) TableName() string {
	return "feed_entries"
}

// Post is the normalized publishable representation of an entry. A populated
// ExternalPostID marks the post as already published.
type Post struct {
	gorm.Model
	FeedID      uint `gorm:"UNIQUE_INDEX:idx_posts_feed_uid"`
	FeedEntryID uint

	UID         string `gorm:"NOT NULL;UNIQUE_INDEX:idx_posts_feed_uid"`
	Content     string `gorm:"Type:text"`
	SourceURL   string
	PublishedAt time.Time

	Attachments      pq.StringArray `gorm:"Type:varchar[]"`
	CommentBodies    pq.StringArray `gorm:"Type:varchar[]"`
	ValidationErrors pq.StringArray `gorm:"Type:varchar[]"`

	Status         PostStatus `gorm:"NOT NULL;INDEX"`
	ExternalPostID string
}

func (*Post) TableName() string {
	return "posts"
}

// Metric is a sparse daily rollup per feed, only written for days with
// activity.
type Metric struct {
	gorm.Model
	FeedID uint `gorm:"NOT NULL;UNIQUE_INDEX:idx_feed_metrics_feed_date"`

	Date              time.Time `gorm:"Type:date;NOT NULL;UNIQUE_INDEX:idx_feed_metrics_feed_date"`
	PostsCount        int       `gorm:"NOT NULL"`
	InvalidPostsCount int       `gorm:"NOT NULL"`
}

func (*Metric) TableName() string {
	return "feed_metrics"
}

// Event is an append-only structured log entry, the durable record of
// refresh outcomes.
type Event struct {
	gorm.Model
	UUID uuid.UUID `gorm:"UNIQUE_INDEX;NOT NULL;Type:uuid"`

	Type  EventType  `gorm:"NOT NULL;INDEX"`
	Level EventLevel `gorm:"NOT NULL"`

	UserID uint

	SubjectType string
	SubjectID   uint

	Message  string
	Metadata postgres.Jsonb `gorm:"Type:jsonb"`

	ExpiresAt *time.Time
}

func (*Event) TableName() string {
	return "events"
}
