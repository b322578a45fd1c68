package feed

import (
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
)

// ErrNotEnableable is returned when a feed misses capability keys or a
// usable publishing destination.
var ErrNotEnableable = errors.New("feed cannot be enabled without capability keys and an active publishing destination")

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the tables of all feed models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		Feed{},
		Schedule{},
		EntryUID{},
		Entry{},
		Post{},
		Metric{},
		Event{},
	).Error
}

func (s *Store) Enabled() ([]Feed, error) {
	var feeds []Feed

	err := s.db.
		Where("state = ?", StateEnabled).
		Find(&feeds).Error
	if err != nil {
		return nil, errors.Wrap(err, "unable to query enabled feeds")
	}

	return feeds, nil
}

func (s *Store) ByID(id uint) (*Feed, error) {
	var feed Feed

	err := s.db.First(&feed, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &feed, nil
}

func (s *Store) SetState(feedID uint, state State) error {
	if state == StateEnabled {
		feed, err := s.ByID(feedID)
		if err != nil {
			return err
		}

		if !feed.CanEnable() {
			return ErrNotEnableable
		}
	}

	return s.db.Model(&Feed{}).
		Where("id = ?", feedID).
		Update("state", state).Error
}

// Delete removes a feed and its schedule, entries and posts are orphaned
// rather than deleted.
func (s *Store) Delete(feedID uint) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	err := tx.Exec(
		"UPDATE feed_entries SET feed_id = NULL WHERE feed_id = ?", feedID,
	).Error
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "unable to orphan feed entries")
	}

	err = tx.Exec(
		"UPDATE posts SET feed_id = NULL WHERE feed_id = ?", feedID,
	).Error
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "unable to orphan posts")
	}

	err = tx.Where("feed_id = ?", feedID).Delete(Schedule{}).Error
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "unable to delete feed schedule")
	}

	err = tx.Where("id = ?", feedID).Delete(Feed{}).Error
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "unable to delete feed")
	}

	return tx.Commit().Error
}

func (s *Store) Get(feedID uint) (*Schedule, error) {
	var schedule Schedule

	err := s.db.First(&schedule, "feed_id = ?", feedID).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &schedule, nil
}

func (s *Store) CreateIfAbsent(schedule *Schedule) (bool, error) {
	now := time.Now()

	result := s.db.Exec(`
INSERT INTO feed_schedules (created_at, updated_at, feed_id, last_run_at, next_run_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`,
		now, now, schedule.FeedID, schedule.LastRunAt, schedule.NextRunAt,
	)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "unable to create feed schedule")
	}

	return result.RowsAffected == 1, nil
}

func (s *Store) Advance(schedule *Schedule, lastRunAt, nextRunAt time.Time) (bool, error) {
	result := s.db.Model(&Schedule{}).
		Where("id = ? AND next_run_at = ?", schedule.ID, schedule.NextRunAt).
		Updates(map[string]interface{}{
			"last_run_at": lastRunAt,
			"next_run_at": nextRunAt,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "unable to advance feed schedule")
	}

	return result.RowsAffected == 1, nil
}

func (s *Store) FilterNewUIDs(feedID uint, uids []string) ([]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	var existing []string
	err := s.db.Model(&EntryUID{}).
		Where("feed_id = ? AND uid IN (?)", feedID, uids).
		Pluck("uid", &existing).Error
	if err != nil {
		return nil, errors.Wrap(err, "unable to query dedup ledger")
	}

	seen := make(map[string]struct{}, len(existing))
	for _, uid := range existing {
		seen[uid] = struct{}{}
	}

	var fresh []string // nolint: prealloc
	for _, uid := range uids {
		if _, ok := seen[uid]; ok {
			continue
		}

		fresh = append(fresh, uid)
		seen[uid] = struct{}{}
	}

	return fresh, nil
}

func (s *Store) PersistEntries(feedID uint, entries []NewEntry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	now := time.Now()

	uids := make([]string, len(entries))
	for i, entry := range entries {
		uids[i] = entry.UID

		err := tx.Exec(`
INSERT INTO feed_entries (created_at, updated_at, feed_id, uid, published_at, raw_data, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`,
			now, now, feedID, entry.UID, entry.PublishedAt,
			postgres.Jsonb{RawMessage: entry.RawData}, EntryStatusPending,
		).Error
		if err != nil {
			tx.Rollback()
			return nil, errors.Wrapf(err, "unable to persist entry %s", entry.UID)
		}

		err = tx.Exec(`
INSERT INTO feed_entry_uids (feed_id, uid, imported_at)
VALUES (?, ?, ?)
ON CONFLICT DO NOTHING
`,
			feedID, entry.UID, now,
		).Error
		if err != nil {
			tx.Rollback()
			return nil, errors.Wrapf(err, "unable to persist dedup ledger row for %s", entry.UID)
		}
	}

	var persisted []Entry
	err := tx.
		Where("feed_id = ? AND uid IN (?)", feedID, uids).
		Find(&persisted).Error
	if err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, "unable to read back persisted entries")
	}

	err = tx.Commit().Error
	if err != nil {
		return nil, err
	}

	return persisted, nil
}

func (s *Store) Pending(feedID uint) ([]Entry, error) {
	var entries []Entry

	err := s.db.
		Where("feed_id = ? AND status = ?", feedID, EntryStatusPending).
		Order("published_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "unable to query pending entries")
	}

	return entries, nil
}

func (s *Store) SetEntryStatus(entryID uint, status EntryStatus) error {
	return s.db.Model(&Entry{}).
		Where("id = ?", entryID).
		Update("status", status).Error
}

func (s *Store) CreatePosts(posts []*Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	now := time.Now()

	for _, post := range posts {
		err := tx.Exec(`
INSERT INTO posts (
  created_at, updated_at, feed_id, feed_entry_id, uid, content, source_url,
  published_at, attachments, comment_bodies, validation_errors, status, external_post_id
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`,
			now, now, post.FeedID, post.FeedEntryID, post.UID, post.Content,
			post.SourceURL, post.PublishedAt, post.Attachments,
			post.CommentBodies, post.ValidationErrors, post.Status,
			post.ExternalPostID,
		).Error
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "unable to persist post %s", post.UID)
		}
	}

	return tx.Commit().Error
}

func (s *Store) Enqueued(feedID uint) ([]Post, error) {
	var posts []Post

	err := s.db.
		Where("feed_id = ? AND status = ?", feedID, PostStatusEnqueued).
		Order("published_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "unable to query enqueued posts")
	}

	return posts, nil
}

func (s *Store) SetPublished(postID uint, externalPostID string) error {
	return s.db.Model(&Post{}).
		Where("id = ?", postID).
		Updates(map[string]interface{}{
			"status":           PostStatusPublished,
			"external_post_id": externalPostID,
		}).Error
}

func (s *Store) SetPostStatus(postID uint, status PostStatus) error {
	return s.db.Model(&Post{}).
		Where("id = ?", postID).
		Update("status", status).Error
}

// AddDailyMetric upserts the sparse daily rollup, all-zero days are skipped.
func (s *Store) AddDailyMetric(feedID uint, date time.Time, postsCount, invalidPostsCount int) error {
	if postsCount == 0 && invalidPostsCount == 0 {
		return nil
	}

	now := time.Now()

	return s.db.Exec(`
INSERT INTO feed_metrics (created_at, updated_at, feed_id, date, posts_count, invalid_posts_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (feed_id, date) DO UPDATE
SET updated_at = EXCLUDED.updated_at,
    posts_count = feed_metrics.posts_count + EXCLUDED.posts_count,
    invalid_posts_count = feed_metrics.invalid_posts_count + EXCLUDED.invalid_posts_count
`,
		now, now, feedID, date, postsCount, invalidPostsCount,
	).Error
}

func (s *Store) Add(event *Event) error {
	if event.UUID == uuid.Nil {
		event.UUID = uuid.New()
	}

	return s.db.Create(event).Error
}
