package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fraudshield/scoring-engine/internal/models"
)

func TestNextWeight(t *testing.T) {
	tests := []struct {
		name      string
		old       float64
		tp, fp    int64
		minSample int
		want      float64
		wantOK    bool
	}{
		{"below min sample untouched", 1.0, 20, 20, 50, 1.0, false},
		{"exactly at min sample", 1.0, 30, 20, 50, 1.0 * (0.5 + 0.6), true},
		{"perfect precision grows", 1.0, 50, 0, 50, 1.5, true},
		{"zero precision shrinks", 1.0, 0, 50, 50, 0.5, true},
		{"half precision is neutral", 1.0, 50, 50, 50, 1.0, true},
		{"clamped at max", 2.5, 100, 0, 50, 3.0, true},
		{"clamped at min", 0.15, 0, 100, 50, 0.1, true},
		{"zero min sample always updates", 1.0, 1, 0, 0, 1.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextWeight(tt.old, tt.tp, tt.fp, tt.minSample)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	t.Run("repeated poor precision converges to the floor", func(t *testing.T) {
		w := 1.0
		for i := 0; i < 20; i++ {
			w, _ = NextWeight(w, 5, 95, 50)
		}
		assert.Equal(t, MinWeight, w)
	})

	t.Run("repeated perfect precision converges to the ceiling", func(t *testing.T) {
		w := 1.0
		for i := 0; i < 20; i++ {
			w, _ = NextWeight(w, 100, 0, 50)
		}
		assert.Equal(t, MaxWeight, w)
	})
}

func TestAccuracyColumn(t *testing.T) {
	tests := []struct {
		fired   bool
		isFraud bool
		want    string
	}{
		{true, true, "true_positives"},
		{true, false, "false_positives"},
		{false, true, "false_negatives"},
		{false, false, "true_negatives"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, accuracyColumn(tt.fired, tt.isFraud))
		})
	}
}

func TestTouchedDigests(t *testing.T) {
	tx := &models.Transaction{
		PhoneDigest:       "p",
		FingerprintDigest: "f",
		DeviceDigest:      "d",
	}
	assert.ElementsMatch(t, []string{"p", "f", "d"}, touchedDigests(tx))

	t.Run("no digests yields empty", func(t *testing.T) {
		assert.Empty(t, touchedDigests(&models.Transaction{}))
	})
}
