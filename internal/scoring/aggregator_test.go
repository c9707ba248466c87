package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/policy"
)

func defaultThresholds() map[string]int {
	return map[string]int{
		"lending": 65, "fintech": 60, "payments": 70, "crypto": 50,
		"ecommerce": 60, "betting": 55, "gaming": 50, "marketplace": 60,
	}
}

func flag(rule string, base float64) models.Flag {
	return models.Flag{Rule: rule, Severity: models.SeverityHigh, BaseScore: base, Confidence: 0.8}
}

func TestAggregateScoring(t *testing.T) {
	agg := NewAggregator(0)
	store := policy.NewStore(defaultThresholds())
	learned := policy.NewWeightTable()

	t.Run("no flags approves", func(t *testing.T) {
		out := agg.Aggregate(nil, "fintech", store.Snapshot(), learned, nil)
		assert.Equal(t, 0, out.Score)
		assert.Equal(t, models.RiskLevelLow, out.Level)
		assert.Equal(t, models.DecisionApprove, out.Decision)
		assert.Empty(t, out.Flags)
	})

	t.Run("lending stacking scenario hits critical", func(t *testing.T) {
		// loan_stacking 40 x 1.5 default lending weight + new_account 30 = 90.
		flags := []models.Flag{
			flag("new_account_large_amount", 30),
			flag("loan_stacking", 40),
		}
		out := agg.Aggregate(flags, "lending", store.Snapshot(), learned, nil)

		assert.Equal(t, 90, out.Score)
		assert.Equal(t, models.RiskLevelCritical, out.Level)
		assert.Equal(t, models.DecisionDecline, out.Decision)
		require.Len(t, out.Flags, 2)
		assert.Equal(t, "loan_stacking", out.Flags[0].Rule)
		assert.Equal(t, 60.0, out.Flags[0].WeightedScore)
	})

	t.Run("sum clamps at 100", func(t *testing.T) {
		flags := []models.Flag{flag("a", 50), flag("b", 50), flag("c", 50)}
		out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, nil)
		assert.Equal(t, 100, out.Score)
	})

	t.Run("learned multiplier applies", func(t *testing.T) {
		learned := policy.NewWeightTable()
		learned.Set("noisy_rule", "fintech", 0.5)
		out := agg.Aggregate([]models.Flag{flag("noisy_rule", 30)}, "fintech", store.Snapshot(), learned, nil)
		require.Len(t, out.Flags, 1)
		assert.Equal(t, 15.0, out.Flags[0].WeightedScore)
		assert.Equal(t, 15, out.Score)
	})

	t.Run("disabled rule drops its flag", func(t *testing.T) {
		store := policy.NewStore(defaultThresholds())
		require.NoError(t, store.Update("fintech", policy.VerticalPolicy{
			Threshold: 60,
			Disabled:  map[string]bool{"muted": true},
		}))
		out := agg.Aggregate([]models.Flag{flag("muted", 40), flag("kept", 20)}, "fintech", store.Snapshot(), learned, nil)
		require.Len(t, out.Flags, 1)
		assert.Equal(t, "kept", out.Flags[0].Rule)
		assert.Equal(t, 20, out.Score)
	})

	t.Run("zero policy weight disables too", func(t *testing.T) {
		store := policy.NewStore(defaultThresholds())
		require.NoError(t, store.Update("fintech", policy.VerticalPolicy{
			Threshold: 60,
			Weights:   map[string]float64{"muted": 0},
		}))
		out := agg.Aggregate([]models.Flag{flag("muted", 40)}, "fintech", store.Snapshot(), learned, nil)
		assert.Empty(t, out.Flags)
		assert.Equal(t, 0, out.Score)
	})
}

func TestAggregateMLBlend(t *testing.T) {
	agg := NewAggregator(0)
	store := policy.NewStore(defaultThresholds())
	learned := policy.NewWeightTable()
	flags := []models.Flag{flag("some_rule", 40)}

	t.Run("blend is 70/30", func(t *testing.T) {
		out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, &Prediction{Probability: 0.9})
		// 0.7*90 + 0.3*40 = 75
		assert.Equal(t, 75, out.Score)
	})

	t.Run("low probability pulls the score down", func(t *testing.T) {
		out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, &Prediction{Probability: 0.05})
		// 0.7*5 + 0.3*40 = 15.5
		assert.Equal(t, 16, out.Score)
		assert.Equal(t, models.RiskLevelLow, out.Level)
	})

	t.Run("nil prediction uses rules only", func(t *testing.T) {
		out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, nil)
		assert.Equal(t, 40, out.Score)
	})
}

func TestAggregateFlagOrdering(t *testing.T) {
	agg := NewAggregator(0)
	store := policy.NewStore(defaultThresholds())
	learned := policy.NewWeightTable()

	flags := []models.Flag{
		flag("zeta", 20),
		flag("alpha", 20),
		flag("big", 40),
	}
	out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, nil)

	require.Len(t, out.Flags, 3)
	assert.Equal(t, "big", out.Flags[0].Rule)
	// Equal scores break ties by rule name.
	assert.Equal(t, "alpha", out.Flags[1].Rule)
	assert.Equal(t, "zeta", out.Flags[2].Rule)

	t.Run("topK caps the list", func(t *testing.T) {
		agg := NewAggregator(2)
		out := agg.Aggregate(flags, "fintech", store.Snapshot(), learned, nil)
		require.Len(t, out.Flags, 2)
		assert.Equal(t, "big", out.Flags[0].Rule)
		// Score still reflects every fired flag.
		assert.Equal(t, 80, out.Score)
	})
}

func TestRiskLevelBands(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold int
		want      string
	}{
		{"well below", 20, 60, models.RiskLevelLow},
		{"just below 0.6T", 35.9, 60, models.RiskLevelLow},
		{"at 0.6T", 36, 60, models.RiskLevelMedium},
		{"just below T", 59.9, 60, models.RiskLevelMedium},
		{"at T", 60, 60, models.RiskLevelHigh},
		{"just below T+15", 74.9, 60, models.RiskLevelHigh},
		{"at T+15", 75, 60, models.RiskLevelCritical},
		{"maximum", 100, 60, models.RiskLevelCritical},
		{"crypto threshold", 50, 50, models.RiskLevelHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, riskLevel(tt.score, tt.threshold))
		})
	}
}

func TestRecommendation(t *testing.T) {
	agg := NewAggregator(0)
	store := policy.NewStore(defaultThresholds())
	learned := policy.NewWeightTable()

	t.Run("names the strongest signal", func(t *testing.T) {
		out := agg.Aggregate([]models.Flag{flag("sim_swap_pattern", 45), flag("minor", 25)}, "fintech", store.Snapshot(), learned, nil)
		assert.Contains(t, out.Recommendation, "sim_swap_pattern")
	})

	t.Run("ml-only elevation routes to review", func(t *testing.T) {
		out := agg.Aggregate(nil, "fintech", store.Snapshot(), learned, &Prediction{Probability: 0.8})
		assert.Equal(t, models.RiskLevelMedium, out.Level)
		assert.Contains(t, out.Recommendation, "manual review")
	})
}
