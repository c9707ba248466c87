package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

func geoRules() []Rule {
	return []Rule{
		{
			Name:       "vpn_proxy_ip",
			Severity:   models.SeverityMedium,
			BaseScore:  15,
			Confidence: 0.70,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.IsVPN) || features.True(ec.IsProxy) {
					return fire("request originates from a VPN or proxy exit")
				}
				return nil
			},
		},
		{
			Name:       "impossible_travel",
			Severity:   models.SeverityCritical,
			BaseScore:  40,
			Confidence: 0.90,
			Check: func(ec *features.Context) *Result {
				if features.True(ec.ImpossibleTravel) {
					return fireMeta("location change faster than the travel speed ceiling", models.JSONB{
						"implied_speed_kmh": ec.TravelSpeedKmh,
					})
				}
				return nil
			},
		},
		{
			Name:       "country_mismatch",
			Severity:   models.SeverityMedium,
			BaseScore:  20,
			Confidence: 0.75,
			Check: func(ec *features.Context) *Result {
				if ec.Country != "" && ec.IPCountry != nil && *ec.IPCountry != "" && *ec.IPCountry != ec.Country {
					return fireMeta("declared country differs from IP country", models.JSONB{
						"declared": ec.Country,
						"ip":       *ec.IPCountry,
					})
				}
				return nil
			},
		},
	}
}
