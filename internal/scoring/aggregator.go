package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/policy"
)

// Outcome is the aggregator's verdict for one transaction.
type Outcome struct {
	Score          int
	Level          string
	Decision       string
	Flags          []models.Flag
	Recommendation string
}

// Aggregator merges fired flags and the optional ML probability into the
// final score, level and decision. It is deterministic: identical inputs
// always produce identical output, including flag order.
type Aggregator struct {
	topK int
}

// NewAggregator caps the returned flag list at topK; 0 means unlimited.
func NewAggregator(topK int) *Aggregator {
	return &Aggregator{topK: topK}
}

func (a *Aggregator) Aggregate(flags []models.Flag, vertical string, snap *policy.Snapshot, learned *policy.WeightTable, ml *Prediction) Outcome {
	weighted := make([]models.Flag, 0, len(flags))
	var sum float64
	for _, f := range flags {
		w, enabled := snap.Weight(vertical, f.Rule)
		if !enabled {
			continue
		}
		w *= learned.Multiplier(f.Rule, vertical)
		f.WeightedScore = round2(f.BaseScore * w)
		weighted = append(weighted, f)
		sum += f.WeightedScore
	}

	rulesScore := clamp(sum, 0, 100)
	final := rulesScore
	if ml != nil {
		final = clamp(0.7*(ml.Probability*100)+0.3*rulesScore, 0, 100)
	}

	sort.Slice(weighted, func(i, j int) bool {
		if weighted[i].WeightedScore != weighted[j].WeightedScore {
			return weighted[i].WeightedScore > weighted[j].WeightedScore
		}
		return weighted[i].Rule < weighted[j].Rule
	})
	if a.topK > 0 && len(weighted) > a.topK {
		weighted = weighted[:a.topK]
	}

	score := int(math.Round(final))
	threshold := snap.Threshold(vertical)
	level := riskLevel(final, threshold)

	return Outcome{
		Score:          score,
		Level:          level,
		Decision:       decisionFor(level),
		Flags:          weighted,
		Recommendation: recommendation(level, weighted),
	}
}

func riskLevel(score float64, threshold int) string {
	t := float64(threshold)
	switch {
	case score < 0.6*t:
		return models.RiskLevelLow
	case score < t:
		return models.RiskLevelMedium
	case score < t+15:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelCritical
	}
}

func decisionFor(level string) string {
	switch level {
	case models.RiskLevelLow:
		return models.DecisionApprove
	case models.RiskLevelMedium:
		return models.DecisionReview
	default:
		return models.DecisionDecline
	}
}

func recommendation(level string, flags []models.Flag) string {
	if len(flags) == 0 {
		if level == models.RiskLevelLow {
			return "No fraud patterns detected. Proceed with the transaction."
		}
		return "Elevated model risk with no rule hits. Route for manual review."
	}
	top := flags[0].Rule
	switch level {
	case models.RiskLevelLow:
		return "Minor signals only. Proceed with the transaction."
	case models.RiskLevelMedium:
		return fmt.Sprintf("Route for manual review; strongest signal: %s.", top)
	case models.RiskLevelHigh:
		return fmt.Sprintf("Decline recommended; strongest signal: %s.", top)
	default:
		return fmt.Sprintf("Decline and investigate; strongest signal: %s.", top)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
