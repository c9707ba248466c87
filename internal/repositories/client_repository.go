package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fraudshield/scoring-engine/internal/models"
)

var ErrClientNotFound = errors.New("client not found")

// ClientRepository handles tenant records. Lookups happen on every request
// (by API key digest), so the hot query is indexed and single-row.
type ClientRepository struct {
	db *Database
}

func NewClientRepository(db *Database) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `
	id, name, api_key_digest, tier, vertical, rate_limit_per_min,
	COALESCE(webhook_url, ''), COALESCE(webhook_secret, ''), created_at, updated_at
`

// GetByAPIKeyDigest authenticates a tenant from the digest of the presented
// API key. The raw key is never stored.
func (r *ClientRepository) GetByAPIKeyDigest(ctx context.Context, digest string) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE api_key_digest = $1`
	client, err := scanClient(r.db.Pool.QueryRow(ctx, query, digest))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client by api key: %w", err)
	}
	return client, nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	client, err := scanClient(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (
			id, name, api_key_digest, tier, vertical, rate_limit_per_min,
			webhook_url, webhook_secret, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	now := time.Now().UTC()
	client.ID = uuid.New()
	client.CreatedAt = now
	client.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, query,
		client.ID, client.Name, client.APIKeyDigest, client.Tier, client.Vertical,
		client.RateLimitPerMin, nullable(client.WebhookURL), nullable(client.WebhookSecret),
		client.CreatedAt, client.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// Update changes the mutable fields only: tier, rate limit, webhook config.
func (r *ClientRepository) Update(ctx context.Context, client *models.Client) error {
	query := `
		UPDATE clients
		SET tier = $2, rate_limit_per_min = $3, webhook_url = $4, webhook_secret = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		client.ID, client.Tier, client.RateLimitPerMin,
		nullable(client.WebhookURL), nullable(client.WebhookSecret), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// RotateAPIKey stores a new key digest for the client.
func (r *ClientRepository) RotateAPIKey(ctx context.Context, id uuid.UUID, newDigest string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE clients SET api_key_digest = $2, updated_at = $3 WHERE id = $1`,
		id, newDigest, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to rotate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (r *ClientRepository) List(ctx context.Context, limit, offset int) ([]*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ID, &c.Name, &c.APIKeyDigest, &c.Tier, &c.Vertical, &c.RateLimitPerMin,
		&c.WebhookURL, &c.WebhookSecret, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
