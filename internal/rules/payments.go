package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

var cardVerticals = []string{
	models.VerticalPayments, models.VerticalEcommerce, models.VerticalFintech,
}

func paymentRules() []Rule {
	return []Rule{
		{
			Name:       "card_bin_reputation",
			Severity:   models.SeverityHigh,
			BaseScore:  25,
			Confidence: 0.80,
			Verticals:  cardVerticals,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.BINHighRisk) {
					return fire("card BIN carries a poor chargeback reputation")
				}
				return nil
			},
		},
		{
			Name:       "multiple_failed_payments",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.85,
			Verticals:  cardVerticals,
			Check: func(ec *features.Context) *Result {
				if ec.FailedPayments24h != nil && *ec.FailedPayments24h >= 3 {
					return fireMeta("repeated failed payment attempts in 24h", models.JSONB{
						"failed_24h": *ec.FailedPayments24h,
					})
				}
				return nil
			},
		},
		{
			Name:       "shipping_billing_mismatch",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.70,
			Verticals:  []string{models.VerticalPayments, models.VerticalEcommerce},
			Check: func(ec *features.Context) *Result {
				if ec.Amount < highValueAmount || ec.ShippingCountry == nil || ec.BillingCountry == nil {
					return nil
				}
				if *ec.ShippingCountry != "" && *ec.BillingCountry != "" && *ec.ShippingCountry != *ec.BillingCountry {
					return fireMeta("shipping and billing countries differ on a high-value order", models.JSONB{
						"shipping": *ec.ShippingCountry,
						"billing":  *ec.BillingCountry,
					})
				}
				return nil
			},
		},
		{
			Name:       "digital_goods_new_account",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.70,
			Verticals:  []string{models.VerticalPayments, models.VerticalEcommerce},
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsDigitalGoods) && features.True(ec.IsNewAccount) {
					return fire("digital goods purchase on a brand-new account")
				}
				return nil
			},
		},
	}
}
