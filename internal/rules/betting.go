package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

var wagerVerticals = []string{models.VerticalBetting, models.VerticalGaming}

func bettingRules() []Rule {
	return []Rule{
		{
			Name:       "bonus_abuse_device_sharing",
			Severity:   models.SeverityHigh,
			BaseScore:  35,
			Confidence: 0.85,
			Verticals:  wagerVerticals,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.BonusClaimed) && features.True(ec.IsDeviceShared) {
					return fireMeta("bonus claimed on a device shared by multiple users", models.JSONB{
						"distinct_users": ec.DeviceUserCount,
					})
				}
				return nil
			},
		},
		{
			Name:       "withdrawal_without_wagering",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.80,
			Verticals:  wagerVerticals,
			Check: func(ec *features.Context) *Result {
				if isCashOut(ec) && ec.WageredRatio != nil && *ec.WageredRatio < 0.5 {
					return fireMeta("withdrawal with little of the deposit wagered", models.JSONB{
						"wagered_ratio": *ec.WageredRatio,
					})
				}
				return nil
			},
		},
		{
			Name:       "excessive_withdrawals",
			Severity:   models.SeverityMedium,
			BaseScore:  25,
			Confidence: 0.75,
			Verticals:  wagerVerticals,
			Check: func(ec *features.Context) *Result {
				if ec.WithdrawalCount24h != nil && *ec.WithdrawalCount24h >= 5 {
					return fireMeta("unusually many withdrawals in 24h", models.JSONB{
						"withdrawals_24h": *ec.WithdrawalCount24h,
					})
				}
				return nil
			},
		},
	}
}
