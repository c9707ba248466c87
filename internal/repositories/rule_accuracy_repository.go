package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// RuleAccuracyRepository maintains the per-(rule, vertical) outcome counters
// and learned weight multipliers. All mutation happens inside the learning
// loop's single transaction.
type RuleAccuracyRepository struct {
	db *Database
}

func NewRuleAccuracyRepository(db *Database) *RuleAccuracyRepository {
	return &RuleAccuracyRepository{db: db}
}

// Increment bumps one counter column for a (rule, vertical) pair, creating
// the row on first touch. column must be one of the four counter names.
func (r *RuleAccuracyRepository) Increment(ctx context.Context, tx pgx.Tx, rule, vertical, column string) error {
	switch column {
	case "true_positives", "false_positives", "true_negatives", "false_negatives":
	default:
		return fmt.Errorf("invalid accuracy column %q", column)
	}
	query := fmt.Sprintf(`
		INSERT INTO rule_accuracy (rule, vertical, %s, weight, updated_at)
		VALUES ($1, $2, 1, 1.0, NOW())
		ON CONFLICT (rule, vertical)
		DO UPDATE SET %s = rule_accuracy.%s + 1, updated_at = NOW()
	`, column, column, column)
	if _, err := tx.Exec(ctx, query, rule, vertical); err != nil {
		return fmt.Errorf("failed to increment %s for %s/%s: %w", column, rule, vertical, err)
	}
	return nil
}

// Get reads one aggregate inside the learning transaction, locking the row.
func (r *RuleAccuracyRepository) Get(ctx context.Context, tx pgx.Tx, rule, vertical string) (*models.RuleAccuracy, error) {
	var a models.RuleAccuracy
	err := tx.QueryRow(ctx, `
		SELECT rule, vertical, true_positives, false_positives, true_negatives,
		       false_negatives, weight, updated_at
		FROM rule_accuracy
		WHERE rule = $1 AND vertical = $2
		FOR UPDATE
	`, rule, vertical).Scan(
		&a.Rule, &a.Vertical, &a.TruePositives, &a.FalsePositives,
		&a.TrueNegatives, &a.FalseNegatives, &a.Weight, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SetWeight persists a learned weight multiplier.
func (r *RuleAccuracyRepository) SetWeight(ctx context.Context, tx pgx.Tx, rule, vertical string, weight float64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE rule_accuracy SET weight = $3, updated_at = NOW()
		WHERE rule = $1 AND vertical = $2
	`, rule, vertical, weight); err != nil {
		return fmt.Errorf("failed to set weight for %s/%s: %w", rule, vertical, err)
	}
	return nil
}

// ListAll returns every aggregate, used to warm the in-memory weight table at
// startup and to serve the admin accuracy endpoint.
func (r *RuleAccuracyRepository) ListAll(ctx context.Context) ([]*models.RuleAccuracy, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT rule, vertical, true_positives, false_positives, true_negatives,
		       false_negatives, weight, updated_at
		FROM rule_accuracy
		ORDER BY rule, vertical
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule accuracy: %w", err)
	}
	defer rows.Close()

	var out []*models.RuleAccuracy
	for rows.Next() {
		var a models.RuleAccuracy
		if err := rows.Scan(
			&a.Rule, &a.Vertical, &a.TruePositives, &a.FalsePositives,
			&a.TrueNegatives, &a.FalseNegatives, &a.Weight, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
