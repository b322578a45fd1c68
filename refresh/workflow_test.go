package refresh

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/jinzhu/gorm/dialects/postgres"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/Refeed/Worker/capabilities"
	"gitlab.com/Refeed/Worker/feed"
)

// mockStore implements the entry, post, metric and event stores in memory.
type mockStore struct {
	nextID uint

	ledger  map[string]bool
	entries []*feed.Entry
	posts   []*feed.Post
	events  []*feed.Event

	metricWrites []metricWrite
}

type metricWrite struct {
	feedID            uint
	postsCount        int
	invalidPostsCount int
}

func newMockStore() *mockStore {
	return &mockStore{
		ledger: map[string]bool{},
	}
}

func (m *mockStore) FilterNewUIDs(feedID uint, uids []string) ([]string, error) {
	var fresh []string
	for _, uid := range uids {
		if m.ledger[uid] {
			continue
		}
		fresh = append(fresh, uid)
	}
	return fresh, nil
}

func (m *mockStore) PersistEntries(feedID uint, newEntries []feed.NewEntry) ([]feed.Entry, error) {
	var persisted []feed.Entry
	for _, newEntry := range newEntries {
		if !m.ledger[newEntry.UID] {
			m.nextID++
			m.ledger[newEntry.UID] = true
			m.entries = append(m.entries, &feed.Entry{
				Model:       modelWithID(m.nextID),
				FeedID:      feedID,
				UID:         newEntry.UID,
				PublishedAt: newEntry.PublishedAt,
				RawData:     postgres.Jsonb{RawMessage: newEntry.RawData},
				Status:      feed.EntryStatusPending,
			})
		}

		for _, entry := range m.entries {
			if entry.UID == newEntry.UID {
				persisted = append(persisted, *entry)
			}
		}
	}
	return persisted, nil
}

func (m *mockStore) Pending(feedID uint) ([]feed.Entry, error) {
	var pending []feed.Entry
	for _, entry := range m.entries {
		if entry.FeedID == feedID && entry.Status == feed.EntryStatusPending {
			pending = append(pending, *entry)
		}
	}
	return pending, nil
}

func (m *mockStore) SetEntryStatus(entryID uint, status feed.EntryStatus) error {
	for _, entry := range m.entries {
		if entry.ID == entryID {
			entry.Status = status
		}
	}
	return nil
}

func (m *mockStore) CreatePosts(posts []*feed.Post) error {
	for _, post := range posts {
		exists := false
		for _, existing := range m.posts {
			if existing.UID == post.UID {
				exists = true
			}
		}
		if exists {
			continue
		}

		m.nextID++
		created := *post
		created.Model = modelWithID(m.nextID)
		m.posts = append(m.posts, &created)
	}
	return nil
}

func (m *mockStore) Enqueued(feedID uint) ([]feed.Post, error) {
	var enqueued []feed.Post
	for _, post := range m.posts {
		if post.FeedID == feedID && post.Status == feed.PostStatusEnqueued {
			enqueued = append(enqueued, *post)
		}
	}
	sort.Slice(enqueued, func(i, j int) bool {
		return enqueued[i].PublishedAt.Before(enqueued[j].PublishedAt)
	})
	return enqueued, nil
}

func (m *mockStore) SetPublished(postID uint, externalPostID string) error {
	for _, post := range m.posts {
		if post.ID == postID {
			post.Status = feed.PostStatusPublished
			post.ExternalPostID = externalPostID
		}
	}
	return nil
}

func (m *mockStore) SetPostStatus(postID uint, status feed.PostStatus) error {
	for _, post := range m.posts {
		if post.ID == postID {
			post.Status = status
		}
	}
	return nil
}

func (m *mockStore) AddDailyMetric(feedID uint, date time.Time, postsCount, invalidPostsCount int) error {
	if postsCount == 0 && invalidPostsCount == 0 {
		return nil
	}
	m.metricWrites = append(m.metricWrites, metricWrite{
		feedID:            feedID,
		postsCount:        postsCount,
		invalidPostsCount: invalidPostsCount,
	})
	return nil
}

func (m *mockStore) Add(event *feed.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockStore) postByUID(uid string) *feed.Post {
	for _, post := range m.posts {
		if post.UID == uid {
			return post
		}
	}
	return nil
}

func (m *mockStore) entryByUID(uid string) *feed.Entry {
	for _, entry := range m.entries {
		if entry.UID == uid {
			return entry
		}
	}
	return nil
}

func modelWithID(id uint) gorm.Model {
	return gorm.Model{ID: id}
}

// capability stubs

type stubLoader struct {
	raw []byte
	err error
}

func (l *stubLoader) Load(_ context.Context, _ *feed.Feed) ([]byte, error) {
	return l.raw, l.err
}

type stubProcessor struct {
	items []capabilities.Item
	err   error
}

func (p *stubProcessor) Process(_ context.Context, _ []byte) ([]capabilities.Item, error) {
	return p.items, p.err
}

type stubNormalizer struct {
	failUIDs   map[string]bool
	rejectUIDs map[string]bool
}

func (n *stubNormalizer) Normalize(_ context.Context, f *feed.Feed, entry *feed.Entry) (*feed.Post, error) {
	if n.failUIDs[entry.UID] {
		return nil, errors.New("malformed entry")
	}

	post := &feed.Post{
		FeedID:      entry.FeedID,
		FeedEntryID: entry.ID,
		UID:         entry.UID,
		Content:     "content for " + entry.UID,
		PublishedAt: entry.PublishedAt,
		Status:      feed.PostStatusDraft,
	}
	if n.rejectUIDs[entry.UID] {
		post.ValidationErrors = []string{"content is blank"}
	}

	return post, nil
}

type stubPublisher struct {
	store     *mockStore
	failUIDs  map[string]bool
	published []string
}

func (p *stubPublisher) Publish(_ context.Context, _ *feed.Feed, post *feed.Post) (string, error) {
	if post.ExternalPostID != "" {
		return post.ExternalPostID, nil
	}
	if p.failUIDs[post.UID] {
		return "", errors.New("freefeed unavailable")
	}

	externalPostID := "ext-" + post.UID
	p.published = append(p.published, post.UID)

	err := p.store.SetPublished(post.ID, externalPostID)
	if err != nil {
		return "", err
	}

	return externalPostID, nil
}

func testFeed() *feed.Feed {
	f := &feed.Feed{
		UserID:            7,
		Name:              "test feed",
		URL:               "https://example.com/feed.xml",
		CronExpression:    "0 * * * *",
		LoaderKey:         "test",
		ProcessorKey:      "test",
		NormalizerKey:     "test",
		State:             feed.StateEnabled,
		TargetGroup:       "test-group",
		AccessToken:       "token",
		AccessTokenActive: true,
	}
	f.ID = 1
	return f
}

func item(uid string, publishedAt time.Time) capabilities.Item {
	return capabilities.Item{
		UID:         uid,
		PublishedAt: publishedAt,
		RawData:     json.RawMessage(`{"title":"` + uid + `"}`),
	}
}

type workflowFixture struct {
	workflow   *Workflow
	store      *mockStore
	loader     *stubLoader
	processor  *stubProcessor
	normalizer *stubNormalizer
	publisher  *stubPublisher
}

func newWorkflowFixture() *workflowFixture {
	store := newMockStore()
	loader := &stubLoader{raw: []byte("raw content")}
	processor := &stubProcessor{}
	normalizer := &stubNormalizer{}
	postPublisher := &stubPublisher{store: store}

	registry := capabilities.NewRegistry()
	registry.RegisterLoader("test", loader)
	registry.RegisterProcessor("test", processor)
	registry.RegisterNormalizer("test", normalizer)

	workflow := NewWorkflow(
		zap.NewNop(),
		registry,
		store,
		store,
		store,
		store,
		postPublisher,
	)

	return &workflowFixture{
		workflow:   workflow,
		store:      store,
		loader:     loader,
		processor:  processor,
		normalizer: normalizer,
		publisher:  postPublisher,
	}
}

func TestRefreshHappyPath(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("a", now.Add(-2*time.Hour)),
		item("b", now.Add(-1*time.Hour)),
	}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fixture.store.posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(fixture.store.posts))
	}
	for _, uid := range []string{"a", "b"} {
		post := fixture.store.postByUID(uid)
		if post.Status != feed.PostStatusPublished {
			t.Errorf("post %s: expected status published, got %s", uid, post.Status)
		}
		if post.ExternalPostID == "" {
			t.Errorf("post %s: expected external post id", uid)
		}
	}

	if len(fixture.store.metricWrites) != 1 {
		t.Fatalf("expected 1 metric write, got %d", len(fixture.store.metricWrites))
	}
	if fixture.store.metricWrites[0].postsCount != 2 {
		t.Errorf("expected posts count 2, got %d", fixture.store.metricWrites[0].postsCount)
	}

	if len(fixture.store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fixture.store.events))
	}
	event := fixture.store.events[0]
	if event.Type != feed.EventTypeRefreshStats {
		t.Errorf("expected stats event, got %s", event.Type)
	}
	if event.Level != feed.EventLevelInfo {
		t.Errorf("expected info event, got %s", event.Level)
	}
}

func TestRefreshIdempotentRerun(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("a", now.Add(-2*time.Hour)),
		item("b", now.Add(-1*time.Hour)),
	}

	f := testFeed()

	err := fixture.workflow.Refresh(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}

	entriesAfterFirst := len(fixture.store.entries)
	postsAfterFirst := len(fixture.store.posts)

	err = fixture.workflow.Refresh(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}

	if len(fixture.store.entries) != entriesAfterFirst {
		t.Errorf("second run created entries: %d -> %d", entriesAfterFirst, len(fixture.store.entries))
	}
	if len(fixture.store.posts) != postsAfterFirst {
		t.Errorf("second run created posts: %d -> %d", postsAfterFirst, len(fixture.store.posts))
	}
	if len(fixture.publisher.published) != 2 {
		t.Errorf("expected 2 total publishes, got %d", len(fixture.publisher.published))
	}
	if len(fixture.store.metricWrites) != 1 {
		t.Errorf("expected no metric write for the empty run, got %d", len(fixture.store.metricWrites))
	}
}

func TestRefreshItemIsolation(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("first", now.Add(-3*time.Hour)),
		item("second", now.Add(-2*time.Hour)),
		item("third", now.Add(-1*time.Hour)),
	}
	fixture.normalizer.failUIDs = map[string]bool{"second": true}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, uid := range []string{"first", "third"} {
		post := fixture.store.postByUID(uid)
		if post == nil {
			t.Fatalf("expected post for %s", uid)
		}
		if post.Status != feed.PostStatusPublished {
			t.Errorf("post %s: expected status published, got %s", uid, post.Status)
		}
	}

	if fixture.store.postByUID("second") != nil {
		t.Error("expected no post for the failing entry")
	}

	entry := fixture.store.entryByUID("second")
	if entry.Status != feed.EntryStatusProcessed {
		t.Errorf("expected failing entry to be processed, got %s", entry.Status)
	}
}

func TestRefreshPublishOrder(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("newest", now.Add(-30*time.Minute)),
		item("oldest", now.Add(-2*time.Hour)),
		item("middle", now.Add(-1*time.Hour)),
	}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"oldest", "middle", "newest"}
	if len(fixture.publisher.published) != len(expected) {
		t.Fatalf("expected %d publishes, got %d", len(expected), len(fixture.publisher.published))
	}
	for i, uid := range expected {
		if fixture.publisher.published[i] != uid {
			t.Errorf("publish %d: expected %s, got %s", i, uid, fixture.publisher.published[i])
		}
	}
}

func TestRefreshLoadFailure(t *testing.T) {
	fixture := newWorkflowFixture()
	fixture.loader.err = errors.New("connection timed out")

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err == nil {
		t.Fatal("expected an error")
	}

	if len(fixture.store.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(fixture.store.entries))
	}
	if len(fixture.store.posts) != 0 {
		t.Errorf("expected no posts, got %d", len(fixture.store.posts))
	}

	if len(fixture.store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fixture.store.events))
	}
	event := fixture.store.events[0]
	if event.Type != feed.EventTypeRefreshError {
		t.Errorf("expected error event, got %s", event.Type)
	}
	if event.Level != feed.EventLevelError {
		t.Errorf("expected error level, got %s", event.Level)
	}

	var metadata map[string]interface{}
	err = json.Unmarshal(event.Metadata.RawMessage, &metadata)
	if err != nil {
		t.Fatalf("unable to decode event metadata: %v", err)
	}
	if metadata["stage"] != "load" {
		t.Errorf("expected stage load, got %v", metadata["stage"])
	}
	if !strings.Contains(metadata["error"].(string), "connection timed out") {
		t.Errorf("expected error detail in metadata, got %v", metadata["error"])
	}
}

func TestRefreshPartialRejection(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("x", now.Add(-2*time.Hour)),
		item("y", now.Add(-1*time.Hour)),
	}
	fixture.normalizer.rejectUIDs = map[string]bool{"y": true}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if status := fixture.store.postByUID("x").Status; status != feed.PostStatusPublished {
		t.Errorf("post x: expected status published, got %s", status)
	}
	if status := fixture.store.postByUID("y").Status; status != feed.PostStatusRejected {
		t.Errorf("post y: expected status rejected, got %s", status)
	}

	if len(fixture.store.metricWrites) != 1 {
		t.Fatalf("expected 1 metric write, got %d", len(fixture.store.metricWrites))
	}
	write := fixture.store.metricWrites[0]
	if write.postsCount != 1 || write.invalidPostsCount != 1 {
		t.Errorf("expected metric 1/1, got %d/%d", write.postsCount, write.invalidPostsCount)
	}
}

func TestRefreshPublishFailureIsolation(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("good", now.Add(-2*time.Hour)),
		item("bad", now.Add(-1*time.Hour)),
	}
	fixture.publisher.failUIDs = map[string]bool{"bad": true}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if status := fixture.store.postByUID("good").Status; status != feed.PostStatusPublished {
		t.Errorf("post good: expected status published, got %s", status)
	}
	if status := fixture.store.postByUID("bad").Status; status != feed.PostStatusFailed {
		t.Errorf("post bad: expected status failed, got %s", status)
	}
}

func TestRefreshDropsEntriesWithoutUID(t *testing.T) {
	fixture := newWorkflowFixture()
	now := time.Now()
	fixture.processor.items = []capabilities.Item{
		item("", now.Add(-2*time.Hour)),
		item("keeper", now.Add(-1*time.Hour)),
	}

	err := fixture.workflow.Refresh(context.Background(), testFeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fixture.store.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(fixture.store.entries))
	}
	if fixture.store.entries[0].UID != "keeper" {
		t.Errorf("expected entry keeper, got %s", fixture.store.entries[0].UID)
	}
}

func TestRefreshUnknownCapabilityAborts(t *testing.T) {
	fixture := newWorkflowFixture()
	f := testFeed()
	f.ProcessorKey = "missing"

	err := fixture.workflow.Refresh(context.Background(), f)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !capabilities.IsUnknownCapability(errors.Cause(err)) {
		t.Errorf("expected an unknown capability error, got %v", err)
	}

	if len(fixture.store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(fixture.store.events))
	}
	if fixture.store.events[0].Type != feed.EventTypeRefreshError {
		t.Errorf("expected error event, got %s", fixture.store.events[0].Type)
	}
}
