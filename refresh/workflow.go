package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/capabilities"
	"gitlab.com/Refeed/Worker/feed"
	"gitlab.com/Refeed/Worker/metrics"
)

// PostPublisher pushes one enqueued post to the destination.
type PostPublisher interface {
	Publish(ctx context.Context, f *feed.Feed, post *feed.Post) (string, error)
}

// Workflow executes the ordered refresh pipeline for one feed:
// load, process, dedup, persist, normalize, persist posts, publish,
// finalize.
type Workflow struct {
	logger    *zap.Logger
	registry  *capabilities.Registry
	entries   feed.EntryStore
	posts     feed.PostStore
	metrics   feed.MetricStore
	events    feed.EventStore
	publisher PostPublisher
}

func NewWorkflow(
	logger *zap.Logger,
	registry *capabilities.Registry,
	entries feed.EntryStore,
	posts feed.PostStore,
	metricStore feed.MetricStore,
	events feed.EventStore,
	postPublisher PostPublisher,
) *Workflow {
	return &Workflow{
		logger:    logger,
		registry:  registry,
		entries:   entries,
		posts:     posts,
		metrics:   metricStore,
		events:    events,
		publisher: postPublisher,
	}
}

// pipeline is the intermediate state handed from stage to stage.
type pipeline struct {
	run  *Run
	feed *feed.Feed

	raw      []byte
	items    []capabilities.Item
	newItems []capabilities.Item
	drafts   []*feed.Post
}

type stage struct {
	name string
	fn   func(p *pipeline) error
}

// Refresh runs the full pipeline. A stage error aborts the remaining stages
// and is recorded as an error event before being returned; item-level
// failures inside normalize and publish never abort the run.
func (w *Workflow) Refresh(ctx context.Context, f *feed.Feed) error {
	run := NewRun(f)
	run.WithContext(ctx)
	run.WithLogger(w.logger.With(
		zap.Uint("feed_id", f.ID),
		zap.String("launch", run.Launch.String()),
	))

	run.Logger().Info("run started")
	metrics.RefreshesStarted.Add(1)

	p := &pipeline{run: run, feed: f}

	stages := []stage{
		{"initialize", w.initialize},
		{"load", w.load},
		{"process", w.process},
		{"dedup", w.dedup},
		{"persist_entries", w.persistEntries},
		{"normalize", w.normalize},
		{"persist_posts", w.persistPosts},
		{"publish", w.publish},
		{"finalize", w.finalize},
	}

	for _, s := range stages {
		start := time.Now()
		err := s.fn(p)
		run.Stats.StageDurations[s.name] = time.Since(start)

		if err != nil {
			metrics.RefreshesFailed.Add(1)
			run.Except(err, zap.String("stage", s.name))
			w.recordFailure(run, s.name, err)

			return errors.Wrapf(err, "refresh aborted at stage %s", s.name)
		}
	}

	run.Logger().Info("run completed",
		zap.Duration("took", time.Since(run.Launch)),
		zap.Int("posts_published", run.Stats.PostsPublished),
	)

	return nil
}

func (w *Workflow) initialize(p *pipeline) error {
	p.run.Stats.StartedAt = p.run.Launch

	return nil
}

func (w *Workflow) load(p *pipeline) error {
	loader, err := w.registry.Loader(p.feed.LoaderKey)
	if err != nil {
		return err
	}

	raw, err := loader.Load(p.run.Context(), p.feed)
	if err != nil {
		return errors.Wrap(err, "unable to load feed content")
	}

	p.raw = raw
	p.run.Stats.ContentSize = len(raw)

	return nil
}

func (w *Workflow) process(p *pipeline) error {
	processor, err := w.registry.Processor(p.feed.ProcessorKey)
	if err != nil {
		return err
	}

	items, err := processor.Process(p.run.Context(), p.raw)
	if err != nil {
		return errors.Wrap(err, "unable to process feed content")
	}

	p.run.Stats.EntriesTotal = len(items)

	// entries without a uid cannot be deduplicated or persisted safely
	kept := make([]capabilities.Item, 0, len(items))
	for _, item := range items {
		if item.UID == "" {
			p.run.Stats.EntriesWithoutUID++
			continue
		}

		kept = append(kept, item)
	}

	p.items = kept

	return nil
}

func (w *Workflow) dedup(p *pipeline) error {
	uids := make([]string, len(p.items))
	for i, item := range p.items {
		uids[i] = item.UID
	}

	fresh, err := w.entries.FilterNewUIDs(p.feed.ID, uids)
	if err != nil {
		return err
	}

	freshSet := make(map[string]struct{}, len(fresh))
	for _, uid := range fresh {
		freshSet[uid] = struct{}{}
	}

	var newItems []capabilities.Item // nolint: prealloc
	for _, item := range p.items {
		if _, ok := freshSet[item.UID]; !ok {
			continue
		}

		newItems = append(newItems, item)
		delete(freshSet, item.UID)
	}

	p.newItems = newItems
	p.run.Stats.EntriesNew = len(newItems)

	if len(newItems) == 0 {
		p.run.Logger().Debug("no new entries found")
	}

	return nil
}

func (w *Workflow) persistEntries(p *pipeline) error {
	if len(p.newItems) == 0 {
		return nil
	}

	newEntries := make([]feed.NewEntry, len(p.newItems))
	for i, item := range p.newItems {
		newEntries[i] = feed.NewEntry{
			UID:         item.UID,
			PublishedAt: item.PublishedAt,
			RawData:     item.RawData,
		}
	}

	persisted, err := w.entries.PersistEntries(p.feed.ID, newEntries)
	if err != nil {
		return err
	}

	metrics.EntriesImported.Add(int64(len(persisted)))

	p.run.Logger().Info("persisted new entries",
		zap.Int("amount", len(persisted)),
	)

	return nil
}

// normalize works off the feed's pending entries rather than this run's
// batch, so a run crashed after persistence is resumed here. One entry
// failing to normalize never aborts its siblings.
func (w *Workflow) normalize(p *pipeline) error {
	normalizer, err := w.registry.Normalizer(p.feed.NormalizerKey)
	if err != nil {
		return err
	}

	pending, err := w.entries.Pending(p.feed.ID)
	if err != nil {
		return err
	}

	for i := range pending {
		entry := &pending[i]

		post, err := normalizer.Normalize(p.run.Context(), p.feed, entry)
		if err != nil {
			p.run.Stats.EntriesFailed++
			p.run.Except(err,
				zap.String("entry_uid", entry.UID),
			)

			if post != nil {
				post.Status = feed.PostStatusFailed
				p.drafts = append(p.drafts, post)
			}
		} else {
			if len(post.ValidationErrors) > 0 {
				post.Status = feed.PostStatusRejected
				p.run.Stats.PostsRejected++
			} else {
				post.Status = feed.PostStatusEnqueued
				p.run.Stats.PostsCreated++
			}

			p.drafts = append(p.drafts, post)
		}

		// processed means we finished trying, successfully or not
		err = w.entries.SetEntryStatus(entry.ID, feed.EntryStatusProcessed)
		if err != nil {
			p.run.Except(err,
				zap.String("entry_uid", entry.UID),
			)
		}
	}

	return nil
}

func (w *Workflow) persistPosts(p *pipeline) error {
	if len(p.drafts) == 0 {
		return nil
	}

	err := w.posts.CreatePosts(p.drafts)
	if err != nil {
		return err
	}

	p.run.Logger().Info("persisted posts",
		zap.Int("amount", len(p.drafts)),
		zap.Int("enqueued", p.run.Stats.PostsCreated),
		zap.Int("rejected", p.run.Stats.PostsRejected),
	)

	return nil
}

// publish pushes the feed's enqueued posts oldest first, so they appear on
// the destination in chronological order. A failing post is marked failed
// and skipped, its siblings still publish.
func (w *Workflow) publish(p *pipeline) error {
	enqueued, err := w.posts.Enqueued(p.feed.ID)
	if err != nil {
		return err
	}

	for i := range enqueued {
		post := &enqueued[i]

		externalPostID, err := w.publisher.Publish(p.run.Context(), p.feed, post)
		if err != nil {
			p.run.Stats.PostsFailed++
			metrics.PostsFailed.Add(1)
			p.run.Except(err,
				zap.Uint("post_id", post.ID),
				zap.String("post_uid", post.UID),
			)

			err = w.posts.SetPostStatus(post.ID, feed.PostStatusFailed)
			if err != nil {
				p.run.Except(err,
					zap.Uint("post_id", post.ID),
				)
			}
			continue
		}

		p.run.Stats.PostsPublished++
		metrics.PostsPublished.Add(1)

		p.run.Logger().Info("published post",
			zap.Uint("post_id", post.ID),
			zap.String("external_post_id", externalPostID),
		)
	}

	return nil
}

func (w *Workflow) finalize(p *pipeline) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	err := w.metrics.AddDailyMetric(
		p.feed.ID, today,
		p.run.Stats.PostsCreated, p.run.Stats.PostsRejected,
	)
	if err != nil {
		return errors.Wrap(err, "unable to persist feed metric")
	}

	err = w.events.Add(&feed.Event{
		Type:        feed.EventTypeRefreshStats,
		Level:       feed.EventLevelInfo,
		UserID:      p.feed.UserID,
		SubjectType: "feed",
		SubjectID:   p.feed.ID,
		Message:     "feed refresh completed",
		Metadata:    metadataJsonb(p.run.Stats.Metadata()),
	})
	if err != nil {
		return errors.Wrap(err, "unable to record stats event")
	}

	return nil
}

// recordFailure writes the durable failure record: the failing stage, the
// error with its trace, and the stats accumulated so far.
func (w *Workflow) recordFailure(run *Run, stageName string, stageErr error) {
	metadata := run.Stats.Metadata()
	metadata["stage"] = stageName
	metadata["error"] = stageErr.Error()
	metadata["error_verbose"] = fmt.Sprintf("%+v", stageErr)

	err := w.events.Add(&feed.Event{
		Type:        feed.EventTypeRefreshError,
		Level:       feed.EventLevelError,
		UserID:      run.Feed.UserID,
		SubjectType: "feed",
		SubjectID:   run.Feed.ID,
		Message:     fmt.Sprintf("feed refresh failed at stage %s", stageName),
		Metadata:    metadataJsonb(metadata),
	})
	if err != nil {
		run.Logger().Error("unable to record failure event",
			zap.Error(err),
		)
	}
}

func metadataJsonb(metadata map[string]interface{}) postgres.Jsonb {
	raw, err := json.Marshal(metadata)
	if err != nil {
		raw = []byte("{}")
	}

	return postgres.Jsonb{RawMessage: raw}
}
