package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleAccuracyPrecision(t *testing.T) {
	tests := []struct {
		name   string
		tp, fp int64
		want   float64
		wantOK bool
	}{
		{"no samples", 0, 0, 0, false},
		{"perfect", 10, 0, 1.0, true},
		{"useless", 0, 10, 0.0, true},
		{"mixed", 30, 20, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := RuleAccuracy{TruePositives: tt.tp, FalsePositives: tt.fp}
			got, ok := a.Precision()
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{ErrorCode: ErrCodeNotFound, Message: "no such transaction"}
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, err.Error(), "no such transaction")
}
