package database

import (
	"context"
	"time"
)

type FeedRepository interface {
	GetFeed(ctx context.Context, name string) (*Feed, error)
	GetFeeds(ctx context.Context) ([]Feed, error)
	GetFeedCount(ctx context.Context) (int, error)

	UpsertFeed(ctx context.Context, name, url, category string) error
	UpdateFeedMetadata(ctx context.Context, name, title, link, language string, nextFetch time.Time) error
}

// Candidate is a feed entry that passed deduplication and is about to enter
// the queue.
type Candidate struct {
	URLHash      string
	URL          string
	CanonicalURL string
	Title        string
	FeedName     string
	Category     string
	PublishedAt  *time.Time
}

type QueueRepository interface {
	GetItem(ctx context.Context, id string) (*QueueItem, error)
	ListItems(ctx context.Context, status QueueStatus, limit int) ([]QueueItem, error)
	ListPending(ctx context.Context, limit int) ([]QueueItem, error)
	CountByStatus(ctx context.Context) (map[QueueStatus]int, error)

	Claim(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) error
	MarkCompleted(ctx context.Context, id string) error
	RecoverStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
	Requeue(ctx context.Context, id string) (bool, error)

	CompletePublication(ctx context.Context, record PublicationRecord, article *Article) error
	FailPublication(ctx context.Context, record PublicationRecord, reason string) error
}

type ArticleRepository interface {
	TitlesPublishedSince(ctx context.Context, since time.Time) ([]string, error)
	CategoryCountsSince(ctx context.Context, since time.Time) (map[string]int, error)
	GetRecentArticles(ctx context.Context, limit int) ([]Article, error)
	GetArticleCount(ctx context.Context) (int, error)
}

type PublicationRepository interface {
	GetPublications(ctx context.Context, queueItemID string) ([]PublicationRecord, error)
}

// Admission is the outcome of offering a candidate to the dedup tables.
type Admission int

const (
	Admitted Admission = iota
	RejectedURL
	RejectedTitle
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case RejectedURL:
		return "url already seen"
	case RejectedTitle:
		return "similar title seen recently"
	}
	return "unknown"
}

// TitleCheck rejects a candidate whose title restates one admitted since
// Since. Similar receives the candidate title and the recent titles.
type TitleCheck struct {
	Since   time.Time
	Similar func(title string, seen []string) bool
}

type DedupRepository interface {
	HasURLHash(ctx context.Context, hash string) (bool, error)
	TitlesSeenSince(ctx context.Context, since time.Time) ([]string, error)
	Admit(ctx context.Context, candidate Candidate) (bool, error)
	AdmitNovel(ctx context.Context, candidate Candidate, check TitleCheck) (Admission, error)
}

type RunLockRepository interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}
