package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/repositories"
)

// Service serves tenant-scoped decision analytics. Everything it returns is
// aggregate counts over the tenant's own rows.
type Service struct {
	transactions *repositories.TransactionRepository
}

func NewService(transactions *repositories.TransactionRepository) *Service {
	return &Service{transactions: transactions}
}

// DailySummary returns the decision breakdown for one calendar day. An empty
// day defaults to today (UTC).
func (s *Service) DailySummary(ctx context.Context, clientID uuid.UUID, day string) (*models.DecisionSummary, error) {
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", day, models.ErrInvalidInput)
	}
	return s.transactions.GetDailySummary(ctx, clientID, day)
}
