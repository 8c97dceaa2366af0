package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// UpdateRepository persists the append-only update history. Rows are never
// edited or deleted here.
type UpdateRepository struct {
	db *pgxpool.Pool
}

func NewUpdateRepository(db *pgxpool.Pool) *UpdateRepository {
	return &UpdateRepository{db: db}
}

// Insert appends one update. The partial unique index on
// (email_id, feature_key) makes replays of the same logical report no-ops;
// the return value reports whether a row was actually written.
func (r *UpdateRepository) Insert(ctx context.Context, u *model.Update) (bool, error) {
	query := `
        INSERT INTO updates
            (id, feature_key, email_id, ts, sender, summary, status, percent_complete,
             blockers, action_items, source)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
        ON CONFLICT (email_id, feature_key) WHERE email_id IS NOT NULL DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query,
		u.ID, u.FeatureKey, u.EmailID, u.Timestamp, u.Sender, u.Summary,
		u.Status, u.PercentComplete, u.Blockers, u.ActionItems, u.Source)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRecentByFeature returns the latest updates for one feature, newest
// first.
func (r *UpdateRepository) ListRecentByFeature(ctx context.Context, featureKey string, limit int) ([]model.Update, error) {
	if limit < 1 {
		limit = 10
	}
	query := `
        SELECT id, feature_key, COALESCE(email_id, ''), ts, sender, summary,
               COALESCE(status, ''), percent_complete, blockers, action_items, source
        FROM updates
        WHERE feature_key = $1
        ORDER BY ts DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, featureKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []model.Update
	for rows.Next() {
		var u model.Update
		if err := rows.Scan(&u.ID, &u.FeatureKey, &u.EmailID, &u.Timestamp, &u.Sender,
			&u.Summary, &u.Status, &u.PercentComplete, &u.Blockers, &u.ActionItems, &u.Source); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// CountByFeature returns the total number of updates for a feature.
func (r *UpdateRepository) CountByFeature(ctx context.Context, featureKey string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM updates WHERE feature_key = $1`, featureKey).Scan(&n)
	return n, err
}
