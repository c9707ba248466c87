package rules

import (
	"fmt"

	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

// Per-window user velocity triggers.
var velocityTriggers = []struct {
	window string
	limit  int64
	score  float64
	count  func(*features.Context) int64
}{
	{"1m", 3, 25, func(ec *features.Context) int64 { return ec.UserVelocity.M1 }},
	{"10m", 8, 20, func(ec *features.Context) int64 { return ec.UserVelocity.M10 }},
	{"1h", 15, 20, func(ec *features.Context) int64 { return ec.UserVelocity.H1 }},
	{"24h", 40, 15, func(ec *features.Context) int64 { return ec.UserVelocity.H24 }},
}

func velocityRules() []Rule {
	rules := make([]Rule, 0, len(velocityTriggers)+2)
	for _, trigger := range velocityTriggers {
		trigger := trigger
		severity := models.SeverityMedium
		if trigger.window == "1m" {
			severity = models.SeverityHigh
		}
		rules = append(rules, Rule{
			Name:       "rapid_transactions_" + trigger.window,
			Severity:   severity,
			BaseScore:  trigger.score,
			Confidence: 0.75,
			Check: func(ec *features.Context) *Result {
				if !ec.VelocityKnown {
					return nil
				}
				if count := trigger.count(ec); count >= trigger.limit {
					return fireMeta(fmt.Sprintf("%d transactions in %s exceeds the %d limit", count, trigger.window, trigger.limit), models.JSONB{
						"window": trigger.window,
						"count":  count,
						"limit":  trigger.limit,
					})
				}
				return nil
			},
		})
	}

	rules = append(rules, Rule{
		Name:       "ip_velocity",
		Severity:   models.SeverityMedium,
		BaseScore:  20,
		Confidence: 0.70,
		Check: func(ec *features.Context) *Result {
			if ec.VelocityKnown && ec.IPVelocity.H1 >= 10 {
				return fireMeta("unusually many transactions from one IP in 1h", models.JSONB{
					"count_1h": ec.IPVelocity.H1,
				})
			}
			return nil
		},
	})

	rules = append(rules, Rule{
		Name:       "first_transaction_at_maximum",
		Severity:   models.SeverityHigh,
		BaseScore:  35,
		Confidence: 0.85,
		Check: func(ec *features.Context) *Result {
			if features.True(ec.FirstTransaction) && ec.MaxAllowedAmount != nil && ec.Amount >= *ec.MaxAllowedAmount {
				return fireMeta("first-ever transaction placed at the allowed maximum", models.JSONB{
					"max_allowed": *ec.MaxAllowedAmount,
				})
			}
			return nil
		},
	})

	return rules
}
