package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ DedupRepository = (*dedupRepository)(nil)

type dedupRepository struct {
	db *DB
}

func NewDedupRepository(db *DB) DedupRepository {
	return &dedupRepository{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *dedupRepository) HasURLHash(ctx context.Context, hash string) (bool, error) {
	return hasURLHash(ctx, r.db, hash)
}

func hasURLHash(ctx context.Context, q querier, hash string) (bool, error) {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM dedup_urls WHERE url_hash = ?`, hash).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check url hash: %w", err)
	}
	return true, nil
}

func (r *dedupRepository) TitlesSeenSince(ctx context.Context, since time.Time) ([]string, error) {
	return titlesSeenSince(ctx, r.db, since)
}

func titlesSeenSince(ctx context.Context, q querier, since time.Time) ([]string, error) {
	query, args, err := builder.Select("title").
		From("dedup_titles").
		Where(sq.GtOrEq{"seen_at": since.UTC()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, title)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating title rows: %w", err)
	}

	return titles, nil
}

// Admit records the URL hash and title and enqueues the candidate as pending,
// all in one transaction. It reports false when the hash was already known.
func (r *dedupRepository) Admit(ctx context.Context, c Candidate) (bool, error) {
	admission, err := r.AdmitNovel(ctx, c, TitleCheck{})
	return admission == Admitted, err
}

// AdmitNovel is Admit with the recent-title check run inside the same
// transaction, so concurrent ingestion cannot admit two restatements of one
// story. A zero check skips the title comparison.
func (r *dedupRepository) AdmitNovel(ctx context.Context, c Candidate, check TitleCheck) (Admission, error) {
	admission := RejectedURL

	err := r.db.inTx(ctx, func(tx *sql.Tx) error {
		seen, err := hasURLHash(ctx, tx, c.URLHash)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}

		if check.Similar != nil {
			recent, err := titlesSeenSince(ctx, tx, check.Since)
			if err != nil {
				return err
			}
			if check.Similar(c.Title, recent) {
				admission = RejectedTitle
				return nil
			}
		}

		ts := now()

		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dedup_urls (url_hash, seen_at) VALUES (?, ?)`, c.URLHash, ts)
		if err != nil {
			return fmt.Errorf("failed to record url hash: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil
		}

		_, err = execBuilt(ctx, tx, builder.Insert("dedup_titles").
			Columns("title", "seen_at").
			Values(c.Title, ts))
		if err != nil {
			return fmt.Errorf("failed to record title: %w", err)
		}

		_, err = execBuilt(ctx, tx, builder.Insert("queue_items").
			Columns("id", "url", "canonical_url", "title", "feed_name", "category",
				"published_at", "discovered_at", "status", "updated_at").
			Values(c.URLHash, c.URL, c.CanonicalURL, c.Title, c.FeedName, c.Category,
				nullTime(c.PublishedAt), ts, string(StatusPending), ts))
		if err != nil {
			return fmt.Errorf("failed to enqueue item: %w", err)
		}

		admission = Admitted
		return nil
	})
	if err != nil {
		return RejectedURL, err
	}

	return admission, nil
}
