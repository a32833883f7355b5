package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var _ PublicationRepository = (*publicationRepository)(nil)

type publicationRepository struct {
	db *DB
}

func NewPublicationRepository(db *DB) PublicationRepository {
	return &publicationRepository{db: db}
}

func (r *publicationRepository) GetPublications(ctx context.Context, queueItemID string) ([]PublicationRecord, error) {
	query, args, err := builder.Select(
		"id", "queue_item_id", "action", "post_id", "post_url", "success", "response", "error", "created_at",
	).From("publications").Where(sq.Eq{"queue_item_id": queueItemID}).OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get publications: %w", err)
	}
	defer rows.Close()

	var records []PublicationRecord
	for rows.Next() {
		var rec PublicationRecord
		var action string
		err := rows.Scan(&rec.ID, &rec.QueueItemID, &action, &rec.PostID, &rec.PostURL,
			&rec.Success, &rec.Response, &rec.Error, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication row: %w", err)
		}
		rec.Action = PublishAction(action)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publication rows: %w", err)
	}

	return records, nil
}
