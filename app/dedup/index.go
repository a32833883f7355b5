// Package dedup keeps candidates that were already seen, or that restate a
// recently seen story, out of the processing queue.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/feedpress/app/database"
	"github.com/lysyi3m/feedpress/app/similarity"
)

const (
	DefaultTitleThreshold = 0.9
	DefaultTitleWindow    = 7 * 24 * time.Hour
)

type Index struct {
	repo      database.DedupRepository
	threshold float64
	window    time.Duration
	now       func() time.Time
}

func NewIndex(repo database.DedupRepository) *Index {
	return &Index{
		repo:      repo,
		threshold: DefaultTitleThreshold,
		window:    DefaultTitleWindow,
		now:       time.Now,
	}
}

// IsDuplicate reports whether urlHash was admitted before.
func (i *Index) IsDuplicate(ctx context.Context, urlHash string) (bool, error) {
	return i.repo.HasURLHash(ctx, urlHash)
}

// IsSimilarTitle compares title against every title admitted inside the
// window. This is a linear scan over the window; a shingle/LSH index would
// have to replace it once the window holds tens of thousands of titles.
func (i *Index) IsSimilarTitle(ctx context.Context, title string) (bool, error) {
	recent, err := i.repo.TitlesSeenSince(ctx, i.now().Add(-i.window))
	if err != nil {
		return false, err
	}
	return i.similar(title, recent), nil
}

func (i *Index) similar(title string, seen []string) bool {
	for _, s := range seen {
		if similarity.TokenOverlap(title, s) > i.threshold {
			return true
		}
	}
	return false
}

// Admit runs both checks and, when the candidate is new, records it and
// enqueues it as pending. The checks and the write share one transaction.
// Admitting the same URL twice is a no-op.
func (i *Index) Admit(ctx context.Context, c database.Candidate) (database.Admission, error) {
	admission, err := i.repo.AdmitNovel(ctx, c, database.TitleCheck{
		Since:   i.now().Add(-i.window),
		Similar: i.similar,
	})
	if err != nil {
		return database.RejectedURL, fmt.Errorf("failed to admit candidate: %w", err)
	}
	return admission, nil
}
