package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/feed"
)

const maxFeedSize = 10 << 20

type ProcessFeedTask struct {
	Task
	FeedConfig *feed.Config
	httpClient *http.Client
	parser     *feed.Parser
	filterer   *feed.Filterer
	feedRepo   database.FeedRepository
	dedup      Deduplicator
	userAgent  string
}

func NewProcessFeedTask(feedName string, feedConfig *feed.Config, httpClient *http.Client, parser *feed.Parser, filterer *feed.Filterer, feedRepo database.FeedRepository, dedup Deduplicator, userAgent string) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:       NewTask(TaskTypeProcessFeed, feedName),
		FeedConfig: feedConfig,
		httpClient: httpClient,
		parser:     parser,
		filterer:   filterer,
		feedRepo:   feedRepo,
		dedup:      dedup,
		userAgent:  userAgent,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Feed disabled, skipping", "feed", t.FeedName)
		return nil
	}

	data, err := t.fetchFeed(ctx, t.FeedConfig.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, items, err := t.parser.Run(data)
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	if limit := t.FeedConfig.Settings.MaxItems; limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	kept := t.filterer.Run(items, t.FeedConfig)

	duplicateCount := 0
	newCount := 0

	for _, item := range kept {
		candidate := database.Candidate{
			URLHash:      item.URLHash,
			URL:          item.Link,
			CanonicalURL: feed.CanonicalURL(item.Link),
			Title:        item.Title,
			FeedName:     t.FeedName,
			Category:     t.FeedConfig.Category,
			PublishedAt:  item.PublishedAt,
		}

		admission, err := t.dedup.Admit(ctx, candidate)
		if err != nil {
			return fmt.Errorf("failed to enqueue entry: %w", err)
		}
		if admission != database.Admitted {
			slog.Debug("Duplicate entry skipped", "feed", t.FeedName, "link", item.Link, "reason", admission.String())
			duplicateCount++
			continue
		}
		newCount++
	}

	if err := t.storeFeedMetadata(ctx, metadata); err != nil {
		return fmt.Errorf("failed to store feed metadata: %w", err)
	}

	slog.Info("Task completed",
		"type", "ProcessFeed",
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"total", len(items),
		"filtered", len(items)-len(kept),
		"duplicates", duplicateCount,
		"new", newCount)

	return nil
}

func (t *ProcessFeedTask) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(t.FeedConfig.Settings.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func (t *ProcessFeedTask) storeFeedMetadata(ctx context.Context, metadata *feed.Metadata) error {
	nextFetch := time.Now().UTC().Add(time.Duration(t.FeedConfig.Settings.RefreshInterval) * time.Second)

	err := t.feedRepo.UpdateFeedMetadata(ctx, t.FeedName, metadata.Title, metadata.Link, metadata.Language, nextFetch)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata and next fetch time: %w", err)
	}

	return nil
}
