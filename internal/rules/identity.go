package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func identityRules() []Rule {
	return []Rule{
		{
			Name:       "disposable_email_domain",
			Severity:   models.SeverityMedium,
			BaseScore:  25,
			Confidence: 0.85,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.EmailDisposable) {
					return fire("email uses a disposable mail provider")
				}
				return nil
			},
		},
		{
			Name:       "sim_swap_pattern",
			Severity:   models.SeverityCritical,
			BaseScore:  45,
			Confidence: 0.88,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.PhoneChangedRecently) && features.True(ec.IsNewDevice) && isCashOut(ec) {
					return fireMeta("recent phone change plus new device on a cash-out", models.JSONB{
						"transaction_type": ec.TransactionType,
					})
				}
				return nil
			},
		},
		{
			Name:       "contact_change_withdrawal",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.80,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.ContactChangedRecently) && isCashOut(ec) {
					return fire("contact details changed shortly before a withdrawal")
				}
				return nil
			},
		},
	}
}
