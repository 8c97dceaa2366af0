package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// ProgressRepository maintains the per-feature rolling aggregate.
type ProgressRepository struct {
	db *pgxpool.Pool
}

func NewProgressRepository(db *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get returns the aggregate for a feature, or (nil, nil) when no update
// has landed yet.
func (r *ProgressRepository) Get(ctx context.Context, featureKey string) (*model.FeatureProgress, error) {
	query := `
        SELECT feature_key, current_status, percent_complete, last_update_id, last_update_at, update_count
        FROM feature_progress
        WHERE feature_key = $1
    `
	var p model.FeatureProgress
	err := r.db.QueryRow(ctx, query, featureKey).Scan(
		&p.FeatureKey, &p.CurrentStatus, &p.PercentComplete,
		&p.LastUpdateID, &p.LastUpdateAt, &p.UpdateCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply upserts the aggregate from one update, last-writer-wins keyed by
// the update timestamp: a replayed or late-arriving older update bumps the
// count but never regresses status or percent. Concurrent writers are safe
// because every guarded column compares against the stored row inside the
// same statement.
func (r *ProgressRepository) Apply(ctx context.Context, u *model.Update, updateCount int) error {
	status := u.Status
	hasPercent := u.PercentComplete != nil

	query := `
        INSERT INTO feature_progress
            (feature_key, current_status, percent_complete, last_update_id, last_update_at, update_count)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (feature_key) DO UPDATE SET
            current_status   = CASE WHEN $5 >= feature_progress.last_update_at AND $2 <> ''
                                    THEN $2 ELSE feature_progress.current_status END,
            percent_complete = CASE WHEN $5 >= feature_progress.last_update_at AND $7
                                    THEN $3 ELSE feature_progress.percent_complete END,
            last_update_id   = CASE WHEN $5 >= feature_progress.last_update_at
                                    THEN $4 ELSE feature_progress.last_update_id END,
            last_update_at   = GREATEST($5, feature_progress.last_update_at),
            update_count     = $6
    `
	_, err := r.db.Exec(ctx, query,
		u.FeatureKey, status, u.PercentComplete, u.ID, u.Timestamp, updateCount, hasPercent)
	return err
}
