package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

// Amount thresholds shared across the catalogue.
const (
	largeAmount     = 100_000
	highValueAmount = 50_000
)

var cashOutTypes = map[string]bool{
	"withdrawal":        true,
	"cashout":           true,
	"cash_out":          true,
	"payout":            true,
	"transfer_out":      true,
	"loan_disbursement": true,
}

func isCashOut(ec *features.Context) bool {
	return cashOutTypes[ec.TransactionType]
}

func accountRules() []Rule {
	return []Rule{
		{
			Name:       "new_account_large_amount",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.80,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsNewAccount) && ec.Amount >= largeAmount {
					return fireMeta("large transaction on an account younger than 7 days", models.JSONB{
						"account_age_days": intOrNil(ec.AccountAgeDays),
						"amount":           ec.Amount,
					})
				}
				return nil
			},
		},
		{
			Name:       "dormant_account_reactivation",
			Severity:   models.SeverityMedium,
			BaseScore:  25,
			Confidence: 0.75,
			Check: func(ec *features.Context) *Result {
				if ec.DormantDays != nil && *ec.DormantDays >= 90 && ec.Amount >= largeAmount {
					return fireMeta("dormant account reactivated with a large transaction", models.JSONB{
						"dormant_days": *ec.DormantDays,
					})
				}
				return nil
			},
		},
		{
			Name:       "sequential_email_pattern",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.70,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.EmailLooksSequential) {
					return fire("email local part matches a sequential account pattern")
				}
				return nil
			},
		},
		{
			Name:       "night_large_transaction",
			Severity:   models.SeverityLow,
			BaseScore:  15,
			Confidence: 0.65,
			Check: func(ec *features.Context) *Result {
				if ec.IsNight && ec.Amount >= largeAmount {
					return fire("large transaction between 02:00 and 05:00 local time")
				}
				return nil
			},
		},
		{
			Name:       "round_amount_pattern",
			Severity:   models.SeverityLow,
			BaseScore:  10,
			Confidence: 0.60,
			Check: func(ec *features.Context) *Result {
				if ec.IsRoundAmount && ec.Amount >= largeAmount {
					return fire("amount matches a known structuring value")
				}
				return nil
			},
		},
	}
}

func intOrNil(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
