package scorer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/document/doctest"
	"github.com/lysyi3m/feedpress/app/feed"
)

type fakeHistory struct {
	counts map[string]int
	titles []string
	err    error
}

func (f *fakeHistory) CategoryCountsSince(context.Context, time.Time) (map[string]int, error) {
	return f.counts, f.err
}

func (f *fakeHistory) TitlesPublishedSince(context.Context, time.Time) ([]string, error) {
	return f.titles, f.err
}

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T, history History) *Scorer {
	t.Helper()
	reliability, err := LoadReliability("")
	if err != nil {
		t.Fatal(err)
	}
	s := New(history, reliability)
	s.now = func() time.Time { return testNow }
	return s
}

func hoursAgo(h int) *time.Time {
	ts := testNow.Add(-time.Duration(h) * time.Hour)
	return &ts
}

func TestFreshness(t *testing.T) {
	tests := []struct {
		name      string
		published *time.Time
		expected  float64
	}{
		{"missing", nil, 1.0},
		{"10 hours", hoursAgo(10), 1.0},
		{"24 hours", hoursAgo(24), 1.0},
		{"30 hours", hoursAgo(30), 0.8},
		{"60 hours", hoursAgo(60), 0.6},
		{"100 hours", hoursAgo(100), 0.4},
		{"168 hours", hoursAgo(168), 0.4},
		{"200 hours", hoursAgo(200), 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Freshness(tt.published, testNow); got != tt.expected {
				t.Errorf("Freshness = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCategoryBalance(t *testing.T) {
	tests := []struct {
		name     string
		counts   map[string]int
		expected float64
	}{
		{"empty history", nil, 1.0},
		{"unseen category", map[string]int{"music": 10}, 1.0},
		{"5 percent", map[string]int{"film": 1, "music": 19}, 1.0},
		{"10 percent", map[string]int{"film": 1, "music": 9}, 0.8},
		{"25 percent", map[string]int{"film": 1, "music": 3}, 0.6},
		{"35 percent", map[string]int{"film": 7, "music": 13}, 0.4},
		{"50 percent", map[string]int{"film": 1, "music": 1}, 0.2},
		{"only category", map[string]int{"film": 4}, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryBalance(tt.counts, "film"); got != tt.expected {
				t.Errorf("CategoryBalance = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestQualityTitleBand(t *testing.T) {
	doc := doctest.Valid()

	doc.Title = doctest.Text(15)
	if q := QualityOf(doc); q.Title != 0 {
		t.Errorf("Expected no title bonus for 15 characters, got %v", q.Title)
	}

	doc.Title = doctest.Text(50)
	if q := QualityOf(doc); q.Title != 0.2 {
		t.Errorf("Expected full title bonus for 50 characters, got %v", q.Title)
	}
}

func TestQualityBreakdown(t *testing.T) {
	doc := doctest.Valid()
	q := QualityOf(doc)

	if q.Lead != 0.2 || q.Facts != 0.2 || q.EditorNote != 0.1 || q.Tags != 0.1 {
		t.Errorf("Expected every bonus for the valid fixture, got %+v", q)
	}
	if math.Abs(q.Background-0.3) > 1e-9 {
		t.Errorf("Expected background bonus 0.3, got %v", q.Background)
	}
	if q.Total() != 1.0 {
		t.Errorf("Expected total capped at 1.0, got %v", q.Total())
	}

	doc.Lead = doctest.Text(400)
	doc.Background[0].Body = doctest.Text(100)
	doc.SEO.Tags = doc.SEO.Tags[:3]
	q = QualityOf(doc)
	if q.Lead != 0 || q.Tags != 0 || math.Abs(q.Background-0.2) > 1e-9 {
		t.Errorf("Expected lost bonuses, got %+v", q)
	}
	if math.Abs(q.Total()-0.7) > 1e-9 {
		t.Errorf("Expected total 0.7, got %v", q.Total())
	}
}

func TestReliability(t *testing.T) {
	r, err := LoadReliability("")
	if err != nil {
		t.Fatal(err)
	}

	if got := r.Score("www.Variety.com"); got != 0.9 {
		t.Errorf("Expected 0.9 for variety.com, got %v", got)
	}
	if got := r.Score("unknown.example"); got != 0.6 {
		t.Errorf("Expected default 0.6, got %v", got)
	}

	override := filepath.Join(t.TempDir(), "reliability.yml")
	if err := os.WriteFile(override, []byte("default: 0.5\ndomains:\n  unknown.example: 0.7\n  variety.com: 0.95\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err = LoadReliability(override)
	if err != nil {
		t.Fatal(err)
	}
	if r.Score("unknown.example") != 0.7 || r.Score("variety.com") != 0.95 || r.Score("other.example") != 0.5 {
		t.Error("Expected override file to take precedence")
	}
	if r.Score("reuters.com") != 0.95 {
		t.Error("Expected built-in entries to survive the override")
	}
}

func TestReliabilityRejectsOutOfRange(t *testing.T) {
	override := filepath.Join(t.TempDir(), "reliability.yml")
	if err := os.WriteFile(override, []byte("domains:\n  bad.example: 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadReliability(override); err == nil {
		t.Error("Expected error for score above 1")
	}
	if _, err := LoadReliability(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing override file")
	}
}

func queueItem(published *time.Time) database.QueueItem {
	return database.QueueItem{
		ID:           "item",
		URL:          "https://www.variety.com/2026/film/news/example",
		CanonicalURL: "https://variety.com/2026/film/news/example",
		Category:     "film",
		PublishedAt:  published,
	}
}

func TestScoreRoundTrip(t *testing.T) {
	s := newTestScorer(t, &fakeHistory{})
	doc := doctest.Valid()

	result, err := s.Score(context.Background(), doc, &feed.ExtractedContent{PublishedTime: hoursAgo(2)}, queueItem(nil), DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}

	want := 1*0.30 + 0.9*0.20 + 1*0.15 + 1*0.25 + 1*0.10
	if math.Abs(result.Score-want) > 1e-9 {
		t.Errorf("Expected composite %v, got %v", want, result.Score)
	}
	if result.Factors.Reliability != 0.9 || result.Factors.DuplicateRisk != 0 || result.Factors.CategoryBalance != 1 {
		t.Errorf("Unexpected factors: %+v", result.Factors)
	}
	if !result.ShouldPublish {
		t.Error("Expected publish decision above threshold")
	}

	perfect := Factors{Freshness: 1, Reliability: 1, CategoryBalance: 1, ContentQuality: 1, DuplicateRisk: 0}
	if math.Abs(perfect.Composite()-1.0) > 1e-9 {
		t.Errorf("Expected perfect factors to score 1.0, got %v", perfect.Composite())
	}
}

func TestScoreUsesQueueTimeWhenSourceHasNone(t *testing.T) {
	s := newTestScorer(t, &fakeHistory{})

	result, err := s.Score(context.Background(), doctest.Valid(), &feed.ExtractedContent{}, queueItem(hoursAgo(100)), DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if result.Factors.Freshness != 0.4 {
		t.Errorf("Expected freshness from queue item, got %v", result.Factors.Freshness)
	}
}

func TestScoreDuplicateRiskAndThreshold(t *testing.T) {
	doc := doctest.Valid()
	history := &fakeHistory{
		counts: map[string]int{"film": 9, "music": 1},
		titles: []string{"Something else entirely", doc.Title},
	}
	s := newTestScorer(t, history)

	result, err := s.Score(context.Background(), doc, &feed.ExtractedContent{PublishedTime: hoursAgo(200)}, queueItem(nil), DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}

	if result.Factors.DuplicateRisk != 1 {
		t.Errorf("Expected maximal duplicate risk, got %v", result.Factors.DuplicateRisk)
	}
	if result.Factors.CategoryBalance != 0.2 {
		t.Errorf("Expected dominant category penalty, got %v", result.Factors.CategoryBalance)
	}
	want := result.Factors.Composite()
	if math.Abs(result.Score-want) > 1e-9 {
		t.Errorf("Score %v is not the weighted sum %v", result.Score, want)
	}
	if result.ShouldPublish {
		t.Errorf("Expected score %v to stay below threshold", result.Score)
	}
}

func TestCompositeStaysInUnitInterval(t *testing.T) {
	levels := []float64{0, 0.2, 0.5, 0.8, 1}
	for _, a := range levels {
		for _, b := range levels {
			for _, c := range levels {
				f := Factors{Freshness: a, Reliability: b, CategoryBalance: c, ContentQuality: a, DuplicateRisk: b}
				score := f.Composite()
				if score < -1e-9 || score > 1+1e-9 {
					t.Errorf("Composite %v out of range for %+v", score, f)
				}
				sum := a*0.30 + b*0.20 + c*0.15 + a*0.25 + (1-b)*0.10
				if math.Abs(score-sum) > 1e-9 {
					t.Errorf("Composite %v differs from weighted sum %v", score, sum)
				}
			}
		}
	}
}

func TestScoreHistoryError(t *testing.T) {
	s := newTestScorer(t, &fakeHistory{err: errors.New("database is locked")})

	if _, err := s.Score(context.Background(), doctest.Valid(), nil, queueItem(nil), DefaultThreshold); err == nil {
		t.Error("Expected history error to be returned")
	}
}
