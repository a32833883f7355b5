package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ FeedRepository = (*feedRepository)(nil)

type feedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

var feedColumns = []string{
	"name", "url", "category", "title", "link", "language",
	"last_fetched_at", "next_fetch_at", "created_at", "updated_at",
}

func (r *feedRepository) UpsertFeed(ctx context.Context, name, url, category string) error {
	ts := now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feeds (name, url, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			category = excluded.category,
			updated_at = excluded.updated_at
	`, name, url, category, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}

	return nil
}

func (r *feedRepository) UpdateFeedMetadata(ctx context.Context, name, title, link, language string, nextFetch time.Time) error {
	ts := now()
	_, err := execBuilt(ctx, r.db, builder.Update("feeds").
		Set("title", title).
		Set("link", link).
		Set("language", language).
		Set("last_fetched_at", ts).
		Set("next_fetch_at", nextFetch.UTC()).
		Set("updated_at", ts).
		Where(sq.Eq{"name": name}))
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}

	return nil
}

func (r *feedRepository) GetFeed(ctx context.Context, name string) (*Feed, error) {
	query, args, err := builder.Select(feedColumns...).From("feeds").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	feed, err := scanFeed(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

func (r *feedRepository) GetFeeds(ctx context.Context) ([]Feed, error) {
	query, args, err := builder.Select(feedColumns...).From("feeds").OrderBy("name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

func (r *feedRepository) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var feed Feed
	var lastFetched, nextFetch sql.NullTime

	err := row.Scan(
		&feed.Name, &feed.URL, &feed.Category, &feed.Title, &feed.Link, &feed.Language,
		&lastFetched, &nextFetch, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.LastFetchedAt = timePtr(lastFetched)
	feed.NextFetchAt = timePtr(nextFetch)
	return &feed, nil
}
