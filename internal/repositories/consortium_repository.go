package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// ConsortiumRepository is the only cross-tenant store. Rows are keyed by
// digest; queries return aggregate counts and never the set of tenants or
// anything resembling a raw identifier.
type ConsortiumRepository struct {
	db *Database
}

func NewConsortiumRepository(db *Database) *ConsortiumRepository {
	return &ConsortiumRepository{db: db}
}

// Observe records that a tenant saw a digest. Called by the persistence
// worker, never on the request path.
func (r *ConsortiumRepository) Observe(ctx context.Context, tenantID, kind, digest string, at time.Time) error {
	if digest == "" {
		return nil
	}
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO consortium_index (digest, kind, fraud_count, first_seen, last_seen)
			VALUES ($1, $2, 0, $3, $3)
			ON CONFLICT (digest) DO UPDATE SET last_seen = GREATEST(consortium_index.last_seen, $3)
		`, digest, kind, at); err != nil {
			return fmt.Errorf("failed to upsert consortium index: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO consortium_tenants (digest, tenant_id, last_seen)
			VALUES ($1, $2, $3)
			ON CONFLICT (digest, tenant_id) DO UPDATE SET last_seen = GREATEST(consortium_tenants.last_seen, $3)
		`, digest, tenantID, at); err != nil {
			return fmt.Errorf("failed to upsert consortium tenant: %w", err)
		}
		return nil
	})
}

// TenantCount returns how many distinct tenants touched any of the digests
// inside the rolling window. Count only; the tenant set stays private.
func (r *ConsortiumRepository) TenantCount(ctx context.Context, digests []string, windowDays int) (int, error) {
	if len(digests) == 0 {
		return 0, nil
	}
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT tenant_id)
		FROM consortium_tenants
		WHERE digest = ANY($1) AND last_seen > NOW() - ($2 || ' days')::interval
	`, digests, fmt.Sprintf("%d", windowDays)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count consortium tenants: %w", err)
	}
	return count, nil
}

// FraudCounts returns confirmed-fraud counts per digest.
func (r *ConsortiumRepository) FraudCounts(ctx context.Context, digests []string) (map[string]int64, error) {
	out := make(map[string]int64, len(digests))
	if len(digests) == 0 {
		return out, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT digest, fraud_count FROM consortium_index WHERE digest = ANY($1)
	`, digests)
	if err != nil {
		return nil, fmt.Errorf("failed to read fraud counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var digest string
		var count int64
		if err := rows.Scan(&digest, &count); err != nil {
			return nil, err
		}
		out[digest] = count
	}
	return out, rows.Err()
}

// IncrementFraud bumps the fraud-confirmation counter for every digest,
// inside the learning loop's transaction.
func (r *ConsortiumRepository) IncrementFraud(ctx context.Context, tx pgx.Tx, digests []string) error {
	if len(digests) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE consortium_index SET fraud_count = fraud_count + 1, last_seen = NOW()
		WHERE digest = ANY($1)
	`, digests); err != nil {
		return fmt.Errorf("failed to increment fraud counts: %w", err)
	}
	return nil
}

// Get reads one consortium entry, for the admin surface.
func (r *ConsortiumRepository) Get(ctx context.Context, digest string) (*models.ConsortiumEntry, error) {
	var e models.ConsortiumEntry
	err := r.db.Pool.QueryRow(ctx, `
		SELECT i.digest, i.kind, COUNT(t.tenant_id), i.fraud_count, i.first_seen, i.last_seen
		FROM consortium_index i
		LEFT JOIN consortium_tenants t ON t.digest = i.digest
		WHERE i.digest = $1
		GROUP BY i.digest, i.kind, i.fraud_count, i.first_seen, i.last_seen
	`, digest).Scan(&e.Digest, &e.Kind, &e.TenantCount, &e.FraudCount, &e.FirstSeen, &e.LastSeen)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AgeOut deletes observations past the rolling window. Runs on a schedule
// from the worker.
func (r *ConsortiumRepository) AgeOut(ctx context.Context, windowDays int) error {
	interval := fmt.Sprintf("%d", windowDays)
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM consortium_tenants WHERE last_seen < NOW() - ($1 || ' days')::interval
	`, interval)
	if err != nil {
		return fmt.Errorf("failed to age out consortium tenants: %w", err)
	}
	removed := tag.RowsAffected()

	tag, err = r.db.Pool.Exec(ctx, `
		DELETE FROM consortium_index i
		WHERE i.last_seen < NOW() - ($1 || ' days')::interval
		  AND i.fraud_count = 0
		  AND NOT EXISTS (SELECT 1 FROM consortium_tenants t WHERE t.digest = i.digest)
	`, interval)
	if err != nil {
		return fmt.Errorf("failed to age out consortium index: %w", err)
	}

	log.Info().
		Int64("tenant_rows", removed).
		Int64("index_rows", tag.RowsAffected()).
		Msg("Consortium age-out completed")
	return nil
}
