package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func marketplaceRules() []Rule {
	only := []string{models.VerticalMarketplace}
	return []Rule{
		{
			Name:       "new_seller_high_value",
			Severity:   models.SeverityHigh,
			BaseScore:  25,
			Confidence: 0.75,
			Verticals:  only,
			Check: func(ec *features.Context) *Result {
				if ec.SellerAgeDays != nil && *ec.SellerAgeDays < 14 && ec.Amount >= highValueAmount {
					return fireMeta("high-value order with a seller younger than 14 days", models.JSONB{
						"seller_age_days": *ec.SellerAgeDays,
					})
				}
				return nil
			},
		},
		{
			Name:       "low_rated_seller",
			Severity:   models.SeverityMedium,
			BaseScore:  15,
			Confidence: 0.70,
			Verticals:  only,
			Check: func(ec *features.Context) *Result {
				if ec.SellerRating != nil && *ec.SellerRating > 0 && *ec.SellerRating < 2.5 {
					return fireMeta("seller rating below the trust floor", models.JSONB{
						"seller_rating": *ec.SellerRating,
					})
				}
				return nil
			},
		},
		{
			Name:       "high_risk_category_new_buyer",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.70,
			Verticals:  only,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.HighRiskCategory) && features.True(ec.IsNewAccount) {
					return fire("high-risk category purchase by a brand-new buyer")
				}
				return nil
			},
		},
	}
}
