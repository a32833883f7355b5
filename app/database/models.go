package database

import (
	"time"
)

type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
	StatusPublished  QueueStatus = "published"
)

type PublishAction string

const (
	ActionDraft   PublishAction = "draft"
	ActionPublish PublishAction = "publish"
	ActionUpdate  PublishAction = "update"
)

type Feed struct {
	Name          string // Configuration feed identifier derived from filename
	URL           string
	Category      string
	Title         string
	Link          string
	Language      string
	LastFetchedAt *time.Time
	NextFetchAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QueueItem is one discovered candidate article. ID is the hex SHA-256 of the
// canonical source URL.
type QueueItem struct {
	ID           string
	URL          string
	CanonicalURL string
	Title        string
	FeedName     string
	Category     string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
	Status       QueueStatus
	RetryCount   int
	LastError    string
	ClaimedAt    *time.Time
	UpdatedAt    time.Time
}

// Article is a final accepted document that crossed the publish threshold.
type Article struct {
	ID           string
	QueueItemID  string
	Title        string
	Category     string
	SourceURL    string
	SourceDomain string
	Score        float64
	Document     string // JSON encoded document.Document
	PostStatus   string
	PostID       int64
	PostURL      string
	PublishedAt  time.Time
}

// PublicationRecord is the immutable audit entry of one publish attempt.
type PublicationRecord struct {
	ID          string
	QueueItemID string
	Action      PublishAction
	PostID      int64
	PostURL     string
	Success     bool
	Response    string
	Error       string
	CreatedAt   time.Time
}
