package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/pipeline"
	"github.com/lysyi3m/feedpress/app/publisher"
	"github.com/lysyi3m/feedpress/app/tasks"
)

const (
	publishedFeedSize = 50
	defaultQueueLimit = 50
	maxQueueLimit     = 500
	maxRunSize        = 100
)

func NewHandler(configCache *feed.ConfigCache, repos Repositories, store Pinger, runner Runner,
	scheduler tasks.TaskSchedulerInterface, channel feed.Channel, batchSize int) *Handler {
	return &Handler{
		repos:       repos,
		store:       store,
		generator:   feed.NewGenerator(),
		configCache: configCache,
		runner:      runner,
		scheduler:   scheduler,
		channel:     channel,
		batchSize:   batchSize,
	}
}

type queueItemView struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonical_url"`
	Title        string     `json:"title"`
	Feed         string     `json:"feed"`
	Category     string     `json:"category"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    string     `json:"last_error,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func newQueueItemView(item database.QueueItem) queueItemView {
	return queueItemView{
		ID:           item.ID,
		URL:          item.URL,
		CanonicalURL: item.CanonicalURL,
		Title:        item.Title,
		Feed:         item.FeedName,
		Category:     item.Category,
		Status:       string(item.Status),
		RetryCount:   item.RetryCount,
		LastError:    item.LastError,
		PublishedAt:  item.PublishedAt,
		DiscoveredAt: item.DiscoveredAt,
		ClaimedAt:    item.ClaimedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

type publicationView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	PostID    int64     `json:"post_id,omitempty"`
	PostURL   string    `json:"post_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Response  string    `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) GetPublishedFeed(c *gin.Context) {
	articles, err := h.repos.Articles.GetRecentArticles(c.Request.Context(), publishedFeedSize)
	if err != nil {
		slog.Error("Database error", "operation", "get_articles", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	public := articles[:0]
	for _, a := range articles {
		if a.PostStatus == publisher.StatusPublish {
			public = append(public, a)
		}
	}

	rss, err := h.generator.Run(h.channel, public)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(public)))
	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if err := h.store.PingContext(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	health["status"] = "healthy"

	if counts, err := h.repos.Queue.CountByStatus(ctx); err == nil {
		health["queue"] = counts
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats := map[string]interface{}{
		"loaded_configurations": h.configCache.GetConfigCount(),
	}

	counts, err := h.repos.Queue.CountByStatus(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "count_queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	stats["queue"] = counts

	if n, err := h.repos.Feeds.GetFeedCount(ctx); err == nil {
		stats["feeds"] = n
	}
	if n, err := h.repos.Articles.GetArticleCount(ctx); err == nil {
		stats["articles"] = n
	}
	if report := h.runner.LastReport(); report != nil {
		stats["last_run"] = report
	}
	if h.scheduler != nil {
		stats["scheduler"] = h.scheduler.Stats()
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	ctx := c.Request.Context()
	configs := h.configCache.GetConfigs()

	feeds := make([]map[string]interface{}, 0, len(configs))

	for _, feedConfig := range configs {
		feedInfo := map[string]interface{}{
			"name":             feedConfig.Name,
			"url":              feedConfig.URL,
			"category":         feedConfig.Category,
			"title":            "",
			"enabled":          feedConfig.Settings.Enabled,
			"max_items":        feedConfig.Settings.MaxItems,
			"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
			"filters":          len(feedConfig.Filters),
		}

		if f, err := h.repos.Feeds.GetFeed(ctx, feedConfig.Name); err == nil && f != nil {
			feedInfo["title"] = f.Title
			feedInfo["last_fetched_at"] = f.LastFetchedAt
			feedInfo["next_fetch_at"] = f.NextFetchAt
			feedInfo["updated_at"] = f.UpdatedAt
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

// APIReloadFeed rereads a feed's YAML file and syncs it to the database.
func (h *Handler) APIReloadFeed(c *gin.Context) {
	name := c.Param("name")

	if _, err := h.configCache.GetConfig(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	feedConfig, err := h.configCache.LoadConfig(name)
	if err != nil {
		slog.Error("Error reloading configuration", "feed", name, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to reload configuration",
			"details": err.Error(),
		})
		return
	}

	syncTask := tasks.NewSyncFeedConfigTask(name, feedConfig, h.repos.Feeds)
	syncTask.Start()
	if err := syncTask.Execute(c.Request.Context()); err != nil {
		slog.Error("Error syncing feed configuration", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sync configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"feed": gin.H{
			"name":     name,
			"url":      feedConfig.URL,
			"category": feedConfig.Category,
			"enabled":  feedConfig.Settings.Enabled,
		},
	})
}

func (h *Handler) APIListQueue(c *gin.Context) {
	status := database.QueueStatus(c.Query("status"))
	switch status {
	case "", database.StatusPending, database.StatusProcessing, database.StatusCompleted,
		database.StatusFailed, database.StatusPublished:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
		return
	}

	limit, ok := intQuery(c, "limit", defaultQueueLimit, maxQueueLimit)
	if !ok {
		return
	}

	items, err := h.repos.Queue.ListItems(c.Request.Context(), status, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_queue", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	views := make([]queueItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newQueueItemView(item))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": views,
		"total": len(views),
	})
}

func (h *Handler) APIGetQueueItem(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	item, err := h.repos.Queue.GetItem(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "get_queue_item", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Queue item not found"})
		return
	}

	records, err := h.repos.Publications.GetPublications(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "get_publications", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	publications := make([]publicationView, 0, len(records))
	for _, r := range records {
		publications = append(publications, publicationView{
			ID:        r.ID,
			Action:    string(r.Action),
			Success:   r.Success,
			PostID:    r.PostID,
			PostURL:   r.PostURL,
			Error:     r.Error,
			Response:  r.Response,
			CreatedAt: r.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"item":         newQueueItemView(*item),
		"publications": publications,
	})
}

// APIRequeueItem moves a failed item back to pending. Re-queueing is always
// an explicit operator action.
func (h *Handler) APIRequeueItem(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	item, err := h.repos.Queue.GetItem(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "get_queue_item", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Queue item not found"})
		return
	}

	ok, err := h.repos.Queue.Requeue(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "requeue", "item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Only failed items can be requeued",
			"status": string(item.Status),
		})
		return
	}

	slog.Info("Item requeued", "item_id", id, "retry_count", item.RetryCount)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
		"status":  string(database.StatusPending),
	})
}

// APIRunBatch runs one batch synchronously and returns its summary. The run
// outlives the request: a dropped client must not fail the in-flight item.
func (h *Handler) APIRunBatch(c *gin.Context) {
	size, ok := intQuery(c, "max", h.batchSize, maxRunSize)
	if !ok {
		return
	}

	summary, err := h.runner.RunBatch(context.WithoutCancel(c.Request.Context()), size)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Pipeline run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Pipeline run failed",
			"details": err.Error(),
			"summary": summary,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// intQuery reads a positive integer parameter, capped at limit. It writes a
// 400 response and reports false on bad input.
func intQuery(c *gin.Context, name string, fallback, limit int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return min(fallback, limit), true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Parameter " + name + " must be a positive integer"})
		return 0, false
	}
	return min(n, limit), true
}
