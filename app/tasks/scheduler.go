package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Settings struct {
	UserAgent       string
	Interval        time.Duration
	WorkerCount     int
	BatchSize       int
	PipelineTimeout time.Duration
}

type Stats struct {
	Workers        int        `json:"workers"`
	QueueSize      int        `json:"queue_size"`
	TotalExecuted  int64      `json:"total_executed"`
	TotalErrors    int64      `json:"total_errors"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

type Scheduler struct {
	feedRepo    database.FeedRepository
	configCache *feed.ConfigCache
	dedup       Deduplicator
	runner      BatchRunner
	httpClient  *http.Client
	parser      *feed.Parser
	filterer    *feed.Filterer
	settings    Settings
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu    sync.Mutex
	stats Stats
}

func NewScheduler(configCache *feed.ConfigCache, feedRepo database.FeedRepository, dedup Deduplicator,
	runner BatchRunner, httpClient *http.Client, parser *feed.Parser, filterer *feed.Filterer,
	settings Settings) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		feedRepo:    feedRepo,
		configCache: configCache,
		dedup:       dedup,
		runner:      runner,
		httpClient:  httpClient,
		parser:      parser,
		filterer:    filterer,
		settings:    settings,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
		stats:       Stats{Workers: settings.WorkerCount},
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.settings.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.settings.Interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

// Stop cancels running tasks and waits for the workers. A pipeline batch in
// flight finishes its current item before returning.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.QueueSize = len(s.taskQueue)
	return stats
}

// enqueueStartupTasks syncs every feed config inline so the first round of
// ingestion finds its feed rows, then schedules that round.
func (s *Scheduler) enqueueStartupTasks() {
	s.syncConfigs(s.ctx)
	s.enqueueTasks()
}

// Ingest syncs and fetches every enabled feed on the calling goroutine,
// regardless of its next fetch time. It is used by one-shot runs that have
// no workers.
func (s *Scheduler) Ingest(ctx context.Context) error {
	s.syncConfigs(ctx)

	var failed int
	for _, feedConfig := range s.configCache.GetEnabledConfigs() {
		task := NewProcessFeedTask(feedConfig.Name, feedConfig, s.httpClient, s.parser, s.filterer, s.feedRepo, s.dedup, s.settings.UserAgent)
		task.Start()

		taskCtx, cancel := context.WithTimeout(ctx, task.GetTimeout())
		err := task.Execute(taskCtx)
		cancel()
		s.record(err)

		if err != nil {
			slog.Warn("Feed ingestion failed", "feed", feedConfig.Name, "error", err)
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		slog.Info("Ingestion finished with errors", "failed_feeds", failed)
	}
	return nil
}

func (s *Scheduler) syncConfigs(ctx context.Context) {
	feedConfigs := s.configCache.GetConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
	}

	slog.Debug("Processing feed configurations", "count", len(feedConfigs))

	for _, feedConfig := range feedConfigs {
		syncTask := NewSyncFeedConfigTask(feedConfig.Name, feedConfig, s.feedRepo)
		syncTask.Start()
		if err := syncTask.Execute(ctx); err != nil {
			slog.Warn("Failed to sync feed config", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueTasks() {
	feedConfigs := s.configCache.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
	}

	for _, feedConfig := range feedConfigs {
		f, err := s.feedRepo.GetFeed(s.ctx, feedConfig.Name)
		if err != nil {
			slog.Warn("Failed to get feed from database, skipping", "feed", feedConfig.Name, "error", err)
			continue
		}
		if f == nil {
			slog.Warn("Feed not found in database, skipping", "feed", feedConfig.Name)
			continue
		}

		now := time.Now().UTC()
		if f.NextFetchAt != nil && f.NextFetchAt.After(now) {
			slog.Debug("Feed not due for refresh yet", "feed", feedConfig.Name, "next_fetch_at", f.NextFetchAt)
			continue
		}

		processTask := NewProcessFeedTask(feedConfig.Name, feedConfig, s.httpClient, s.parser, s.filterer, s.feedRepo, s.dedup, s.settings.UserAgent)
		if err := s.EnqueueTask(processTask); err != nil {
			slog.Warn("Failed to enqueue ProcessFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}

	runTask := NewRunPipelineTask(s.runner, s.settings.BatchSize, s.settings.PipelineTimeout)
	if err := s.EnqueueTask(runTask); err != nil {
		slog.Warn("Failed to enqueue RunPipelineTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	err := task.Execute(taskCtx)
	s.record(err)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := min(time.Duration(1<<uint(task.GetRetryCount()-1))*time.Second, 30*time.Second)

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				select {
				case <-time.After(retryDelay):
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				}
				if retryErr := s.EnqueueTask(task); retryErr != nil {
					slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
				}
			}()
		} else if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.stats.TotalExecuted++
	s.stats.LastExecutedAt = &now
	if err != nil {
		s.stats.TotalErrors++
	}
}
