package tasks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/dedup"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/pipeline"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Variety</title>
    <link>https://variety.com</link>
    <language>en-us</language>
    <item>
      <title>Studio greenlights sequel to surprise summer hit</title>
      <link>https://www.variety.com/2026/film/sequel/?utm_source=rss</link>
      <pubDate>Fri, 16 Oct 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Sponsored: the best streaming deals this week</title>
      <link>https://variety.com/2026/deals/</link>
    </item>
    <item>
      <title>Festival names jury for its anniversary edition</title>
      <link>https://variety.com/2026/film/jury/</link>
    </item>
  </channel>
</rss>`

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func newFeedServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*hits++
		mu.Unlock()
		if r.Header.Get("User-Agent") != "Feedpress/test" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func feedConfig(url string) *feed.Config {
	return &feed.Config{
		Name:     "variety",
		URL:      url,
		Category: "film",
		Settings: feed.ConfigSettings{Enabled: true, RefreshInterval: 1800, MaxItems: 20, Timeout: 5},
		Filters: []feed.ConfigFilter{
			{Field: "title", Excludes: []string{"sponsored"}},
		},
	}
}

func TestProcessFeedTaskEnqueuesNewEntries(t *testing.T) {
	db := newTestDB(t)
	hits := 0
	srv := newFeedServer(t, &hits)

	feedRepo := database.NewFeedRepository(db)
	queueRepo := database.NewQueueRepository(db)
	index := dedup.NewIndex(database.NewDedupRepository(db))
	ctx := context.Background()

	cfg := feedConfig(srv.URL)
	if err := NewSyncFeedConfigTask(cfg.Name, cfg, feedRepo).Execute(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	task := NewProcessFeedTask(cfg.Name, cfg, http.DefaultClient, feed.NewParser(), feed.NewFilterer(), feedRepo, index, "Feedpress/test")
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	pending, err := queueRepo.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending))
	}

	hash := feed.HashURL("https://variety.com/2026/film/sequel")
	item, err := queueRepo.GetItem(ctx, hash)
	if err != nil || item == nil {
		t.Fatalf("expected item keyed by canonical URL hash, err=%v", err)
	}
	if item.CanonicalURL != "https://variety.com/2026/film/sequel" || item.Category != "film" || item.FeedName != "variety" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.PublishedAt == nil {
		t.Error("expected publish time from the feed")
	}

	f, err := feedRepo.GetFeed(ctx, "variety")
	if err != nil || f == nil {
		t.Fatalf("feed row missing: %v", err)
	}
	if f.Title != "Variety" || f.NextFetchAt == nil {
		t.Errorf("feed metadata not stored: %+v", f)
	}

	// A second pass sees only known entries.
	if err := task.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	counts, err := queueRepo.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[database.StatusPending] != 2 {
		t.Errorf("re-ingestion must not enqueue duplicates, got %v", counts)
	}
}

type countingDedup struct {
	Deduplicator
	calls int
}

func (c *countingDedup) Admit(ctx context.Context, candidate database.Candidate) (database.Admission, error) {
	c.calls++
	return c.Deduplicator.Admit(ctx, candidate)
}

func TestProcessFeedTaskOffersEachEntryOnce(t *testing.T) {
	db := newTestDB(t)
	hits := 0
	srv := newFeedServer(t, &hits)

	feedRepo := database.NewFeedRepository(db)
	counter := &countingDedup{Deduplicator: dedup.NewIndex(database.NewDedupRepository(db))}

	cfg := feedConfig(srv.URL)
	task := NewProcessFeedTask(cfg.Name, cfg, http.DefaultClient, feed.NewParser(), feed.NewFilterer(), feedRepo, counter, "Feedpress/test")
	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if counter.calls != 2 {
		t.Errorf("expected one admission attempt per unfiltered entry, got %d", counter.calls)
	}
}

func TestProcessFeedTaskReportsHTTPErrors(t *testing.T) {
	db := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := feedConfig(srv.URL)
	task := NewProcessFeedTask(cfg.Name, cfg, http.DefaultClient, feed.NewParser(), feed.NewFilterer(),
		database.NewFeedRepository(db), dedup.NewIndex(database.NewDedupRepository(db)), "Feedpress/test")

	if err := task.Execute(context.Background()); err == nil {
		t.Error("expected error for 502 response")
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	sizes []int
	err   error
}

func (f *fakeRunner) RunBatch(ctx context.Context, maxItems int) (pipeline.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, maxItems)
	return pipeline.Summary{Processed: 1, Published: 1}, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRunPipelineTask(t *testing.T) {
	runner := &fakeRunner{}
	task := NewRunPipelineTask(runner, 7, time.Minute)

	if task.CanRetry() {
		t.Error("pipeline runs must not be retried")
	}
	if task.GetTimeout() != time.Minute {
		t.Errorf("timeout = %v, want 1m", task.GetTimeout())
	}

	if err := task.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runner.sizes[0] != 7 {
		t.Errorf("batch size = %d, want 7", runner.sizes[0])
	}

	runner.err = pipeline.ErrRunInProgress
	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("a held lock is not a task failure, got %v", err)
	}

	runner.err = errors.New("database is locked")
	if err := task.Execute(context.Background()); err == nil {
		t.Error("expected fatal run error to surface")
	}
}

func TestTaskDefaults(t *testing.T) {
	task := NewTask(TaskTypeProcessFeed, "variety")

	if task.ID == "" || task.MaxRetries != DefaultMaxRetries || task.GetTimeout() != DefaultTimeout {
		t.Errorf("unexpected defaults: %+v", task)
	}
	if task.GetDuration() != 0 {
		t.Error("duration must be zero before start")
	}
	task.IncrementRetryCount()
	task.IncrementRetryCount()
	task.IncrementRetryCount()
	if task.CanRetry() {
		t.Error("task must stop retrying at the limit")
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	db := newTestDB(t)
	hits := 0
	srv := newFeedServer(t, &hits)

	feedsDir := t.TempDir()
	config := "url: \"" + srv.URL + "\"\ncategory: film\nsettings:\n  enabled: true\n  timeout: 5\n"
	if err := os.WriteFile(filepath.Join(feedsDir, "variety.yml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	configCache := feed.NewConfigCache(feedsDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	scheduler := NewScheduler(configCache, database.NewFeedRepository(db), dedup.NewIndex(database.NewDedupRepository(db)),
		runner, http.DefaultClient, feed.NewParser(), feed.NewFilterer(), Settings{
			UserAgent:       "Feedpress/test",
			Interval:        time.Hour,
			WorkerCount:     1,
			BatchSize:       5,
			PipelineTimeout: time.Minute,
		})

	scheduler.Start()

	deadline := time.Now().Add(5 * time.Second)
	for runner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	scheduler.Stop()

	if runner.count() == 0 {
		t.Fatal("expected a pipeline run on startup")
	}

	counts, err := database.NewQueueRepository(db).CountByStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[database.StatusPending] == 0 {
		t.Error("expected the startup round to ingest the feed")
	}

	stats := scheduler.Stats()
	if stats.Workers != 1 || stats.TotalExecuted < 2 || stats.TotalErrors != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSchedulerIngestRunsInline(t *testing.T) {
	db := newTestDB(t)
	hits := 0
	srv := newFeedServer(t, &hits)

	feedsDir := t.TempDir()
	config := "url: \"" + srv.URL + "\"\ncategory: film\nsettings:\n  enabled: true\n"
	if err := os.WriteFile(filepath.Join(feedsDir, "variety.yml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	configCache := feed.NewConfigCache(feedsDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	scheduler := NewScheduler(configCache, database.NewFeedRepository(db), dedup.NewIndex(database.NewDedupRepository(db)),
		&fakeRunner{}, http.DefaultClient, feed.NewParser(), feed.NewFilterer(), Settings{UserAgent: "Feedpress/test", WorkerCount: 1})

	if err := scheduler.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("feed fetched %d times, want 1", hits)
	}

	counts, err := database.NewQueueRepository(db).CountByStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts[database.StatusPending] != 3 {
		t.Errorf("expected all three entries queued without filters, got %v", counts)
	}
	if stats := scheduler.Stats(); stats.TotalExecuted != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
