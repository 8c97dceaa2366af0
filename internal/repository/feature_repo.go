package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// FeatureRepository reads the work-item catalog. The catalog is owned by
// the roadmap service; this pipeline never writes it.
type FeatureRepository struct {
	db *pgxpool.Pool
}

func NewFeatureRepository(db *pgxpool.Pool) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// FindByKey looks a feature up by its identifier, case-insensitively.
// Returns (nil, nil) when absent.
func (r *FeatureRepository) FindByKey(ctx context.Context, key string) (*model.Feature, error) {
	query := `
        SELECT key, name, status, created_at
        FROM features
        WHERE upper(key) = upper($1)
    `
	var f model.Feature
	err := r.db.QueryRow(ctx, query, key).Scan(&f.Key, &f.Name, &f.Status, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// List returns the full catalog in stable creation order.
func (r *FeatureRepository) List(ctx context.Context) ([]model.Feature, error) {
	query := `
        SELECT key, name, status, created_at
        FROM features
        ORDER BY created_at, key
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []model.Feature
	for rows.Next() {
		var f model.Feature
		if err := rows.Scan(&f.Key, &f.Name, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// ListIncomplete returns features whose aggregate status is not complete,
// for the delayed-feature scan.
func (r *FeatureRepository) ListIncomplete(ctx context.Context) ([]model.Feature, error) {
	query := `
        SELECT f.key, f.name, COALESCE(p.current_status, f.status), f.created_at
        FROM features f
        LEFT JOIN feature_progress p ON p.feature_key = f.key
        WHERE COALESCE(p.current_status, f.status) <> $1
        ORDER BY f.created_at, f.key
    `
	rows, err := r.db.Query(ctx, query, model.StatusComplete)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []model.Feature
	for rows.Next() {
		var f model.Feature
		if err := rows.Scan(&f.Key, &f.Name, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}
