package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// EmailConfigRepository stores the mailbox connection record. The password
// column only ever holds the vault-encrypted blob.
type EmailConfigRepository struct {
	db *pgxpool.Pool
}

func NewEmailConfigRepository(db *pgxpool.Pool) *EmailConfigRepository {
	return &EmailConfigRepository{db: db}
}

// Get returns the active mailbox configuration.
func (r *EmailConfigRepository) Get(ctx context.Context) (*model.EmailConfig, error) {
	query := `
        SELECT id, host, port, username, encrypted_password, folder, poll_interval_seconds, updated_at
        FROM email_configs
        ORDER BY id
        LIMIT 1
    `
	var c model.EmailConfig
	var intervalSeconds int
	err := r.db.QueryRow(ctx, query).Scan(
		&c.ID, &c.Host, &c.Port, &c.Username, &c.EncryptedPassword,
		&c.Folder, &intervalSeconds, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PollInterval = time.Duration(intervalSeconds) * time.Second
	return &c, nil
}

// Save upserts the mailbox configuration.
func (r *EmailConfigRepository) Save(ctx context.Context, c *model.EmailConfig) error {
	query := `
        INSERT INTO email_configs (id, host, port, username, encrypted_password, folder, poll_interval_seconds, updated_at)
        VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (id) DO UPDATE SET
            host = $1, port = $2, username = $3, encrypted_password = $4,
            folder = $5, poll_interval_seconds = $6, updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		c.Host, c.Port, c.Username, c.EncryptedPassword, c.Folder,
		int(c.PollInterval/time.Second))
	return err
}
