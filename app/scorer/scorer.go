// Package scorer ranks accepted documents and decides whether they are
// published or left as drafts.
package scorer

import (
	"context"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/document"
	"github.com/lysyi3m/feedpress/app/feed"
	"github.com/lysyi3m/feedpress/app/similarity"
)

const (
	WeightFreshness       = 0.30
	WeightReliability     = 0.20
	WeightCategoryBalance = 0.15
	WeightContentQuality  = 0.25
	WeightDuplicateRisk   = 0.10

	CategoryWindow  = 7 * 24 * time.Hour
	DuplicateWindow = 30 * 24 * time.Hour

	DefaultThreshold = 0.75
)

// History is the published-article record the scorer reads. Callers must keep
// it free of concurrent writers for the duration of a run.
type History interface {
	CategoryCountsSince(ctx context.Context, since time.Time) (map[string]int, error)
	TitlesPublishedSince(ctx context.Context, since time.Time) ([]string, error)
}

type Factors struct {
	Freshness       float64 `json:"freshness"`
	Reliability     float64 `json:"reliability"`
	CategoryBalance float64 `json:"category_balance"`
	ContentQuality  float64 `json:"content_quality"`
	DuplicateRisk   float64 `json:"duplicate_risk"`
}

// Composite is the weighted sum of the factors. Duplicate risk counts
// inverted.
func (f Factors) Composite() float64 {
	return f.Freshness*WeightFreshness +
		f.Reliability*WeightReliability +
		f.CategoryBalance*WeightCategoryBalance +
		f.ContentQuality*WeightContentQuality +
		(1-f.DuplicateRisk)*WeightDuplicateRisk
}

type Result struct {
	Score         float64 `json:"score"`
	Factors       Factors `json:"factors"`
	ShouldPublish bool    `json:"should_publish"`
}

type Scorer struct {
	history     History
	reliability *Reliability
	now         func() time.Time
}

func New(history History, reliability *Reliability) *Scorer {
	return &Scorer{history: history, reliability: reliability, now: time.Now}
}

func (s *Scorer) Score(ctx context.Context, doc *document.Document, meta *feed.ExtractedContent, item database.QueueItem, threshold float64) (Result, error) {
	now := s.now()

	balance, err := s.categoryBalance(ctx, item.Category, now)
	if err != nil {
		return Result{}, err
	}

	risk, err := s.duplicateRisk(ctx, doc.Title, now)
	if err != nil {
		return Result{}, err
	}

	factors := Factors{
		Freshness:       Freshness(publishedAt(meta, item), now),
		Reliability:     s.reliability.Score(domainOf(item)),
		CategoryBalance: balance,
		ContentQuality:  QualityOf(doc).Total(),
		DuplicateRisk:   risk,
	}

	score := factors.Composite()
	return Result{
		Score:         score,
		Factors:       factors,
		ShouldPublish: score >= threshold,
	}, nil
}

func publishedAt(meta *feed.ExtractedContent, item database.QueueItem) *time.Time {
	if meta != nil && meta.PublishedTime != nil {
		return meta.PublishedTime
	}
	return item.PublishedAt
}

func domainOf(item database.QueueItem) string {
	raw := item.CanonicalURL
	if raw == "" {
		raw = item.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Freshness is a step function of the source article's age. An unknown
// publish time counts as brand new.
func Freshness(published *time.Time, now time.Time) float64 {
	if published == nil {
		return 1.0
	}

	age := now.Sub(*published)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 48*time.Hour:
		return 0.8
	case age <= 72*time.Hour:
		return 0.6
	case age <= 168*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func (s *Scorer) categoryBalance(ctx context.Context, category string, now time.Time) (float64, error) {
	counts, err := s.history.CategoryCountsSince(ctx, now.Add(-CategoryWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to load category history: %w", err)
	}
	return CategoryBalance(counts, category), nil
}

// CategoryBalance penalises categories that dominate recent publications.
func CategoryBalance(counts map[string]int, category string) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 1.0
	}

	share := float64(counts[category]) / float64(total)
	switch {
	case share < 0.10:
		return 1.0
	case share < 0.20:
		return 0.8
	case share < 0.30:
		return 0.6
	case share < 0.40:
		return 0.4
	default:
		return 0.2
	}
}

// duplicateRisk compares title against every title published in the window.
// The scan is linear in the window size.
func (s *Scorer) duplicateRisk(ctx context.Context, title string, now time.Time) (float64, error) {
	titles, err := s.history.TitlesPublishedSince(ctx, now.Add(-DuplicateWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to load published titles: %w", err)
	}

	risk := 0.0
	for _, published := range titles {
		risk = max(risk, similarity.LevenshteinRatio(title, published))
	}
	return risk, nil
}

// Quality holds the content-quality bonus earned by each sub-check.
type Quality struct {
	Title      float64
	Lead       float64
	Facts      float64
	Background float64
	EditorNote float64
	Tags       float64
}

func (q Quality) Total() float64 {
	return min(1.0, q.Title+q.Lead+q.Facts+q.Background+q.EditorNote+q.Tags)
}

func QualityOf(doc *document.Document) Quality {
	var q Quality

	if within(utf8.RuneCountInString(doc.Title), 20, 80) {
		q.Title = 0.2
	}
	if within(utf8.RuneCountInString(doc.Lead), 100, 300) {
		q.Lead = 0.2
	}
	if within(len(doc.Facts), 5, 7) {
		q.Facts = 0.2
	}
	for _, section := range doc.Background[:min(len(doc.Background), document.BackgroundCount)] {
		if within(utf8.RuneCountInString(section.Body), 200, 600) {
			q.Background += 0.1
		}
	}
	if within(utf8.RuneCountInString(doc.EditorNote), 50, 300) {
		q.EditorNote = 0.1
	}
	if within(len(doc.SEO.Tags), 5, 10) {
		q.Tags = 0.1
	}

	return q
}

func within(n, lo, hi int) bool {
	return n >= lo && n <= hi
}
