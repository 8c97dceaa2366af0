package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// EmailRepository persists ingested messages and enforces the EmailRecord
// state machine: pending -> processed | unmatched | failed, plus
// unmatched -> processed through a manual link.
type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create inserts a new pending record and reports whether a row was
// written. Inserting the same id or the same Message-ID twice is a no-op,
// so a poller crash or a failed mark-seen cannot duplicate a message.
func (r *EmailRepository) Create(ctx context.Context, e *model.EmailRecord) (bool, error) {
	query := `
        INSERT INTO emails (id, message_id, sender, subject, body, html_body, status, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query,
		e.ID, e.MessageID, e.Sender, e.Subject, e.Body, e.HTMLBody, model.EmailStatusPending, e.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches one record with full content.
func (r *EmailRepository) GetByID(ctx context.Context, id string) (*model.EmailRecord, error) {
	query := `
        SELECT id, COALESCE(message_id, ''), sender, subject, body, html_body, status, COALESCE(error_message, ''), received_at, processed_at
        FROM emails
        WHERE id = $1
    `
	var e model.EmailRecord
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.MessageID, &e.Sender, &e.Subject, &e.Body, &e.HTMLBody, &e.Status,
		&e.ErrorMessage, &e.ReceivedAt, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkProcessed moves a pending or unmatched record to processed. The
// guard makes concurrent link actions and job retries last-write-safe: the
// second writer simply matches zero rows.
func (r *EmailRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `
        UPDATE emails
        SET status = $2, error_message = NULL, processed_at = NOW()
        WHERE id = $1 AND status IN ($3, $4)
    `
	_, err := r.db.Exec(ctx, query, id,
		model.EmailStatusProcessed, model.EmailStatusPending, model.EmailStatusUnmatched)
	return err
}

// MarkUnmatched routes a pending record to the review queue.
func (r *EmailRepository) MarkUnmatched(ctx context.Context, id string) error {
	query := `
        UPDATE emails
        SET status = $2, processed_at = NOW()
        WHERE id = $1 AND status = $3
    `
	_, err := r.db.Exec(ctx, query, id, model.EmailStatusUnmatched, model.EmailStatusPending)
	return err
}

// MarkFailed records an unrecoverable processing error.
func (r *EmailRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
        UPDATE emails
        SET status = $2, error_message = $3, processed_at = NOW()
        WHERE id = $1 AND status = $4
    `
	_, err := r.db.Exec(ctx, query, id, model.EmailStatusFailed, errorMessage, model.EmailStatusPending)
	return err
}

// ListUnmatched returns the review queue page by page, newest first.
func (r *EmailRepository) ListUnmatched(ctx context.Context, page, perPage int) ([]model.EmailRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM emails WHERE status = $1`
	if err := r.db.QueryRow(ctx, countQuery, model.EmailStatusUnmatched).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, COALESCE(message_id, ''), sender, subject, body, html_body, status, COALESCE(error_message, ''), received_at, processed_at
        FROM emails
        WHERE status = $1
        ORDER BY received_at DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.db.Query(ctx, query, model.EmailStatusUnmatched, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var emails []model.EmailRecord
	for rows.Next() {
		var e model.EmailRecord
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Sender, &e.Subject, &e.Body, &e.HTMLBody, &e.Status,
			&e.ErrorMessage, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, 0, err
		}
		emails = append(emails, e)
	}
	return emails, total, rows.Err()
}

// Delete removes a record entirely (review queue escape hatch).
func (r *EmailRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	return nil
}
