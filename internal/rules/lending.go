package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func lendingRules(opts Options) []Rule {
	minTenants := opts.LoanStackingTenants
	if minTenants <= 0 {
		minTenants = 3
	}
	return []Rule{
		{
			Name:       "loan_stacking",
			Severity:   models.SeverityCritical,
			BaseScore:  40,
			Confidence: 0.85,
			Verticals:  []string{models.VerticalLending},
			Check: func(ec *features.Context) *Result {
				if ec.ConsortiumKnown && ec.TenantsTouching >= minTenants {
					return fireMeta("identifiers seen at multiple lenders inside the window", models.JSONB{
						"tenants_touching": ec.TenantsTouching,
					})
				}
				return nil
			},
		},
	}
}
