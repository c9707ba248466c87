package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/policy"
	"github.com/fraudshield/scoring-engine/internal/repositories"
	"github.com/fraudshield/scoring-engine/internal/rules"
)

// Weight multiplier bounds.
const (
	MinWeight = 0.1
	MaxWeight = 3.0
)

// Service is the feedback-driven learning loop: it books confirmed outcomes
// into the rule-accuracy table, nudges learned weights, and credits the
// consortium index on confirmed fraud. One feedback is one transaction; a
// partial failure rolls the whole update back.
type Service struct {
	db           *repositories.Database
	transactions *repositories.TransactionRepository
	accuracy     *repositories.RuleAccuracyRepository
	consortium   *repositories.ConsortiumRepository
	registry     *rules.Registry
	weights      *policy.WeightTable
	minSample    int
}

func NewService(
	db *repositories.Database,
	transactions *repositories.TransactionRepository,
	accuracy *repositories.RuleAccuracyRepository,
	consortium *repositories.ConsortiumRepository,
	registry *rules.Registry,
	weights *policy.WeightTable,
	minSample int,
) *Service {
	return &Service{
		db:           db,
		transactions: transactions,
		accuracy:     accuracy,
		consortium:   consortium,
		registry:     registry,
		weights:      weights,
		minSample:    minSample,
	}
}

// ProcessFeedback applies one confirmed outcome. The first feedback wins:
// repeating the same outcome is an idempotent no-op, a different outcome
// fails with OutcomeConflict.
func (s *Service) ProcessFeedback(ctx context.Context, client *models.Client, req *models.FeedbackRequest) (*models.Transaction, error) {
	tx, err := s.transactions.GetByExternalID(ctx, client.ID, req.TransactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if tx.Outcome != nil {
		if *tx.Outcome == req.ActualOutcome {
			return tx, nil
		}
		return nil, models.ErrOutcomeConflict
	}

	isFraud := req.ActualOutcome == models.OutcomeFraud
	fired := make(map[string]bool, len(tx.FlagNames))
	for _, name := range tx.FlagNames {
		fired[name] = true
	}

	updated := make(map[string]float64)
	err = s.db.WithTransaction(ctx, func(dbtx pgx.Tx) error {
		if err := s.transactions.SetOutcome(ctx, dbtx, tx.ID, req.ActualOutcome, req.FraudType); err != nil {
			return err
		}

		for _, rule := range s.registry.ForVertical(tx.Vertical) {
			column := accuracyColumn(fired[rule.Name], isFraud)
			if err := s.accuracy.Increment(ctx, dbtx, rule.Name, tx.Vertical, column); err != nil {
				return err
			}
			if !fired[rule.Name] {
				continue
			}
			agg, err := s.accuracy.Get(ctx, dbtx, rule.Name, tx.Vertical)
			if err != nil {
				return fmt.Errorf("failed to read accuracy for %s: %w", rule.Name, err)
			}
			next, ok := NextWeight(agg.Weight, agg.TruePositives, agg.FalsePositives, s.minSample)
			if !ok {
				continue
			}
			if err := s.accuracy.SetWeight(ctx, dbtx, rule.Name, tx.Vertical, next); err != nil {
				return err
			}
			updated[rule.Name] = next
		}

		if isFraud {
			if err := s.consortium.IncrementFraud(ctx, dbtx, touchedDigests(tx)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrOutcomeConflict) {
			return nil, models.ErrOutcomeConflict
		}
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	// Write-through to the in-memory table after commit so the next request
	// sees the new multipliers.
	for rule, weight := range updated {
		s.weights.Set(rule, tx.Vertical, weight)
	}

	outcome := req.ActualOutcome
	tx.Outcome = &outcome
	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("outcome", req.ActualOutcome).
		Int("weights_updated", len(updated)).
		Msg("Feedback processed")
	return tx, nil
}

// WarmWeights loads persisted learned weights into the in-memory table at
// startup.
func (s *Service) WarmWeights(ctx context.Context) error {
	aggregates, err := s.accuracy.ListAll(ctx)
	if err != nil {
		return err
	}
	loaded := make(map[[2]string]float64, len(aggregates))
	for _, a := range aggregates {
		loaded[[2]string{a.Rule, a.Vertical}] = a.Weight
	}
	s.weights.Replace(loaded)
	log.Info().Int("count", len(loaded)).Msg("Learned weights warmed from store")
	return nil
}

func accuracyColumn(fired, isFraud bool) string {
	switch {
	case fired && isFraud:
		return "true_positives"
	case fired && !isFraud:
		return "false_positives"
	case !fired && isFraud:
		return "false_negatives"
	default:
		return "true_negatives"
	}
}

// NextWeight computes the bounded multiplicative weight update. Below the
// minimum sample the learned weight stays untouched (ok=false).
func NextWeight(old float64, tp, fp int64, minSample int) (float64, bool) {
	if tp+fp < int64(minSample) {
		return old, false
	}
	precision := float64(tp) / float64(tp+fp)
	next := old * (0.5 + precision)
	if next < MinWeight {
		next = MinWeight
	}
	if next > MaxWeight {
		next = MaxWeight
	}
	return next, true
}

func touchedDigests(tx *models.Transaction) []string {
	var out []string
	for _, d := range []string{
		tx.PhoneDigest, tx.EmailDigest, tx.FingerprintDigest,
		tx.NationalIDDigest, tx.WalletDigest, tx.DeviceDigest,
	} {
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
