package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func cryptoRules() []Rule {
	onlyCrypto := []string{models.VerticalCrypto}
	return []Rule{
		{
			Name:       "new_wallet_high_value",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.80,
			Verticals:  onlyCrypto,
			Check: func(ec *features.Context) *Result {
				if ec.WalletAgeDays != nil && *ec.WalletAgeDays < 7 && ec.Amount >= highValueAmount {
					return fireMeta("high-value transfer to a wallet younger than 7 days", models.JSONB{
						"wallet_age_days": *ec.WalletAgeDays,
					})
				}
				return nil
			},
		},
		{
			Name:       "suspicious_wallet",
			Severity:   models.SeverityCritical,
			BaseScore:  50,
			Confidence: 0.95,
			Verticals:  onlyCrypto,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.SuspiciousWallet) {
					return fire("counterparty wallet is on a suspicious-address list")
				}
				return nil
			},
		},
		{
			Name:       "p2p_velocity",
			Severity:   models.SeverityMedium,
			BaseScore:  25,
			Confidence: 0.75,
			Verticals:  onlyCrypto,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsP2P) && ec.VelocityKnown && ec.UserVelocity.H24 >= 10 {
					return fireMeta("rapid P2P trading activity in 24h", models.JSONB{
						"count_24h": ec.UserVelocity.H24,
					})
				}
				return nil
			},
		},
	}
}
