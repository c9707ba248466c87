package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/fraudshield/scoring-engine/internal/models"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrOutcomeConflict     = errors.New("outcome already set to a different value")
)

// TransactionRepository persists scored transactions. The unique constraint
// on (client_id, external_id) is what enforces idempotency when two requests
// race past the cache.
type TransactionRepository struct {
	db *Database
}

func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts the record once; a replay loses the race silently and
// returns inserted=false.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (
			id, client_id, external_id, user_digest, device_digest, fingerprint_digest,
			ip_digest, email_digest, phone_digest, national_id_digest, wallet_digest,
			card_digest, amount, currency, transaction_type, vertical, country,
			score, risk_level, decision, flags, flag_names, context_snapshot,
			ruleset_version, processing_time_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (client_id, external_id) DO NOTHING
	`
	flagsJSON, err := json.Marshal(tx.Flags)
	if err != nil {
		return false, fmt.Errorf("failed to marshal flags: %w", err)
	}
	snapshotJSON, _ := tx.ContextSnapshot.Value()

	tag, err := r.db.Pool.Exec(ctx, query,
		tx.ID, tx.ClientID, tx.ExternalID,
		nullable(tx.UserDigest), nullable(tx.DeviceDigest), nullable(tx.FingerprintDigest),
		nullable(tx.IPDigest), nullable(tx.EmailDigest), nullable(tx.PhoneDigest),
		nullable(tx.NationalIDDigest), nullable(tx.WalletDigest), nullable(tx.CardDigest),
		tx.Amount, tx.Currency, tx.TransactionType, tx.Vertical, nullable(tx.Country),
		tx.Score, tx.RiskLevel, tx.Decision, flagsJSON, pq.Array(tx.FlagNames),
		snapshotJSON, tx.RulesetVersion, tx.ProcessingTimeMs, tx.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const transactionColumns = `
	id, client_id, external_id,
	COALESCE(user_digest, ''), COALESCE(device_digest, ''), COALESCE(fingerprint_digest, ''),
	COALESCE(ip_digest, ''), COALESCE(email_digest, ''), COALESCE(phone_digest, ''),
	COALESCE(national_id_digest, ''), COALESCE(wallet_digest, ''), COALESCE(card_digest, ''),
	amount, currency, transaction_type, vertical, COALESCE(country, ''),
	score, risk_level, decision, flags, flag_names, context_snapshot,
	ruleset_version, processing_time_ms, outcome, fraud_type, outcome_at, created_at
`

// GetByExternalID looks up one tenant's transaction by its external id.
func (r *TransactionRepository) GetByExternalID(ctx context.Context, clientID uuid.UUID, externalID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE client_id = $1 AND external_id = $2`
	tx, err := scanTransaction(r.db.Pool.QueryRow(ctx, query, clientID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// SetOutcome records the confirmed outcome exactly once. The first feedback
// wins; a repeat of the same value is a no-op, a different value conflicts.
func (r *TransactionRepository) SetOutcome(ctx context.Context, dbtx pgx.Tx, id uuid.UUID, outcome, fraudType string) error {
	tag, err := dbtx.Exec(ctx, `
		UPDATE transactions
		SET outcome = $2, fraud_type = NULLIF($3, ''), outcome_at = NOW()
		WHERE id = $1 AND outcome IS NULL
	`, id, outcome, fraudType)
	if err != nil {
		return fmt.Errorf("failed to set outcome: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing string
	if err := dbtx.QueryRow(ctx, `SELECT outcome FROM transactions WHERE id = $1`, id).Scan(&existing); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("failed to read outcome: %w", err)
	}
	if existing == outcome {
		return nil
	}
	return ErrOutcomeConflict
}

// GetDailySummary aggregates one tenant's decisions for a calendar day.
func (r *TransactionRepository) GetDailySummary(ctx context.Context, clientID uuid.UUID, day string) (*models.DecisionSummary, error) {
	summary := &models.DecisionSummary{Date: day}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE decision = 'approve'),
			COUNT(*) FILTER (WHERE decision = 'review'),
			COUNT(*) FILTER (WHERE decision = 'decline'),
			COALESCE(AVG(score), 0),
			COUNT(*) FILTER (WHERE risk_level = 'critical')
		FROM transactions
		WHERE client_id = $1 AND created_at::date = $2::date
	`, clientID, day).Scan(
		&summary.Total, &summary.Approved, &summary.Reviewed,
		&summary.Declined, &summary.AvgScore, &summary.CriticalCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summary: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT rule, COUNT(*) AS cnt
		FROM transactions, unnest(flag_names) AS rule
		WHERE client_id = $1 AND created_at::date = $2::date
		GROUP BY rule
		ORDER BY cnt DESC, rule ASC
		LIMIT 10
	`, clientID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get top rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rc models.RuleCount
		if err := rows.Scan(&rc.Rule, &rc.Count); err != nil {
			return nil, err
		}
		summary.TopRules = append(summary.TopRules, rc)
	}
	return summary, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var flagsJSON []byte
	err := row.Scan(
		&tx.ID, &tx.ClientID, &tx.ExternalID,
		&tx.UserDigest, &tx.DeviceDigest, &tx.FingerprintDigest,
		&tx.IPDigest, &tx.EmailDigest, &tx.PhoneDigest,
		&tx.NationalIDDigest, &tx.WalletDigest, &tx.CardDigest,
		&tx.Amount, &tx.Currency, &tx.TransactionType, &tx.Vertical, &tx.Country,
		&tx.Score, &tx.RiskLevel, &tx.Decision, &flagsJSON, pq.Array(&tx.FlagNames),
		&tx.ContextSnapshot, &tx.RulesetVersion, &tx.ProcessingTimeMs,
		&tx.Outcome, &tx.FraudType, &tx.OutcomeAt, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &tx.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
		}
	}
	return &tx, nil
}
