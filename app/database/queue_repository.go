package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ QueueRepository = (*queueRepository)(nil)

type queueRepository struct {
	db *DB
}

func NewQueueRepository(db *DB) QueueRepository {
	return &queueRepository{db: db}
}

var queueColumns = []string{
	"id", "url", "canonical_url", "title", "feed_name", "category",
	"published_at", "discovered_at", "status", "retry_count", "last_error",
	"claimed_at", "updated_at",
}

func (r *queueRepository) GetItem(ctx context.Context, id string) (*QueueItem, error) {
	query, args, err := builder.Select(queueColumns...).From("queue_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	return item, nil
}

func (r *queueRepository) ListItems(ctx context.Context, status QueueStatus, limit int) ([]QueueItem, error) {
	q := builder.Select(queueColumns...).From("queue_items").OrderBy("updated_at DESC", "id")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	return r.queryItems(ctx, q)
}

// ListPending returns pending items oldest-discovered first.
func (r *queueRepository) ListPending(ctx context.Context, limit int) ([]QueueItem, error) {
	q := builder.Select(queueColumns...).
		From("queue_items").
		Where(sq.Eq{"status": string(StatusPending)}).
		OrderBy("discovered_at", "id").
		Limit(uint64(limit))

	return r.queryItems(ctx, q)
}

func (r *queueRepository) CountByStatus(ctx context.Context) (map[QueueStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	counts := map[QueueStatus]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
		StatusPublished:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[QueueStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}

	return counts, nil
}

// Claim moves an item from pending to processing. It reports false when the
// item was not pending anymore.
func (r *queueRepository) Claim(ctx context.Context, id string) (bool, error) {
	ts := now()
	res, err := execBuilt(ctx, r.db, builder.Update("queue_items").
		Set("status", string(StatusProcessing)).
		Set("claimed_at", ts).
		Set("updated_at", ts).
		Where(sq.Eq{"id": id, "status": string(StatusPending)}))
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (r *queueRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	return markFailed(ctx, r.db, id, reason)
}

func (r *queueRepository) MarkCompleted(ctx context.Context, id string) error {
	_, err := execBuilt(ctx, r.db, builder.Update("queue_items").
		Set("status", string(StatusCompleted)).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id, "status": string(StatusProcessing)}))
	if err != nil {
		return fmt.Errorf("failed to mark queue item completed: %w", err)
	}
	return nil
}

// RecoverStale fails items stuck in processing for longer than olderThan.
func (r *queueRepository) RecoverStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	ts := now()
	res, err := execBuilt(ctx, r.db, builder.Update("queue_items").
		Set("status", string(StatusFailed)).
		Set("last_error", reason).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("updated_at", ts).
		Where(sq.Eq{"status": string(StatusProcessing)}).
		Where(sq.Lt{"claimed_at": ts.Add(-olderThan)}))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale items: %w", err)
	}

	return res.RowsAffected()
}

// Requeue resets a failed item to pending. Items in any other state are left
// untouched.
func (r *queueRepository) Requeue(ctx context.Context, id string) (bool, error) {
	res, err := execBuilt(ctx, r.db, builder.Update("queue_items").
		Set("status", string(StatusPending)).
		Set("claimed_at", nil).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id, "status": string(StatusFailed)}))
	if err != nil {
		return false, fmt.Errorf("failed to requeue item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// CompletePublication writes the publication record, the optional article
// and the published status in one transaction.
func (r *queueRepository) CompletePublication(ctx context.Context, record PublicationRecord, article *Article) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertPublication(ctx, tx, record); err != nil {
			return err
		}

		if article != nil {
			_, err := execBuilt(ctx, tx, builder.Insert("articles").
				Columns("id", "queue_item_id", "title", "category", "source_url", "source_domain",
					"score", "document", "post_status", "post_id", "post_url", "published_at").
				Values(article.ID, article.QueueItemID, article.Title, article.Category, article.SourceURL,
					article.SourceDomain, article.Score, article.Document, article.PostStatus,
					article.PostID, article.PostURL, article.PublishedAt.UTC()))
			if err != nil {
				return fmt.Errorf("failed to insert article: %w", err)
			}
		}

		res, err := execBuilt(ctx, tx, builder.Update("queue_items").
			Set("status", string(StatusPublished)).
			Set("last_error", "").
			Set("updated_at", now()).
			Where(sq.Eq{"id": record.QueueItemID, "status": string(StatusProcessing)}))
		if err != nil {
			return fmt.Errorf("failed to mark queue item published: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return fmt.Errorf("queue item %s is not in processing state", record.QueueItemID)
		}

		return nil
	})
}

// FailPublication records an unsuccessful publish attempt and fails the item
// in one transaction.
func (r *queueRepository) FailPublication(ctx context.Context, record PublicationRecord, reason string) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertPublication(ctx, tx, record); err != nil {
			return err
		}
		return markFailed(ctx, tx, record.QueueItemID, reason)
	})
}

func (r *queueRepository) queryItems(ctx context.Context, q sq.SelectBuilder) ([]QueueItem, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue item rows: %w", err)
	}

	return items, nil
}

func markFailed(ctx context.Context, e execer, id, reason string) error {
	_, err := execBuilt(ctx, e, builder.Update("queue_items").
		Set("status", string(StatusFailed)).
		Set("last_error", reason).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("updated_at", now()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

func insertPublication(ctx context.Context, e execer, record PublicationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now()
	}

	_, err := execBuilt(ctx, e, builder.Insert("publications").
		Columns("id", "queue_item_id", "action", "post_id", "post_url", "success", "response", "error", "created_at").
		Values(record.ID, record.QueueItemID, string(record.Action), record.PostID, record.PostURL,
			record.Success, record.Response, record.Error, record.CreatedAt.UTC()))
	if err != nil {
		return fmt.Errorf("failed to insert publication record: %w", err)
	}
	return nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var status string
	var publishedAt, claimedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.URL, &item.CanonicalURL, &item.Title, &item.FeedName, &item.Category,
		&publishedAt, &item.DiscoveredAt, &status, &item.RetryCount, &item.LastError,
		&claimedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = QueueStatus(status)
	item.PublishedAt = timePtr(publishedAt)
	item.ClaimedAt = timePtr(claimedAt)
	return &item, nil
}
