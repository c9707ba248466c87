package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func deviceRules() []Rule {
	return []Rule{
		{
			Name:       "new_device_large_amount",
			Severity:   models.SeverityHigh,
			BaseScore:  25,
			Confidence: 0.75,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsNewDevice) && ec.Amount >= largeAmount {
					return fire("large transaction from a device not seen before")
				}
				return nil
			},
		},
		{
			Name:       "device_shared_multiple_users",
			Severity:   models.SeverityHigh,
			BaseScore:  30,
			Confidence: 0.80,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsDeviceShared) {
					return fireMeta("device used by multiple distinct users in 24h", models.JSONB{
						"distinct_users": ec.DeviceUserCount,
					})
				}
				return nil
			},
		},
		{
			Name:       "device_fraud_history",
			Severity:   models.SeverityCritical,
			BaseScore:  45,
			Confidence: 0.90,
			Check: func(ec *features.Context) *Result {
				if ec.ConsortiumKnown && ec.DeviceFraudConfirmations > 0 {
					return fireMeta("device fingerprint tied to confirmed fraud", models.JSONB{
						"fraud_confirmations": ec.DeviceFraudConfirmations,
					})
				}
				return nil
			},
		},
		{
			Name:       "device_velocity",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.70,
			Check: func(ec *features.Context) *Result {
				if ec.VelocityKnown && ec.DeviceVelocity.H1 >= 5 {
					return fireMeta("unusually many transactions from one device in 1h", models.JSONB{
						"count_1h": ec.DeviceVelocity.H1,
					})
				}
				return nil
			},
		},
	}
}
