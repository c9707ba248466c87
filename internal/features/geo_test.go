package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		tolerance              float64
	}{
		{"same point", 6.45, 3.40, 6.45, 3.40, 0, 0.001},
		{"lagos to london", 6.4531, 3.3958, 51.5074, -0.1278, 5006, 25},
		{"new york to london", 40.7128, -74.0060, 51.5074, -0.1278, 5570, 25},
		{"short hop", 51.5074, -0.1278, 51.5174, -0.1278, 1.11, 0.05},
		{"antipodal-ish", 0, 0, 0, 180, 20015, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestImpliedSpeedKmh(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		assert.InDelta(t, 500.0, ImpliedSpeedKmh(1000, 2), 0.001)
	})

	t.Run("zero elapsed is infinite", func(t *testing.T) {
		assert.True(t, math.IsInf(ImpliedSpeedKmh(10, 0), 1))
	})

	t.Run("negative elapsed is infinite", func(t *testing.T) {
		assert.True(t, math.IsInf(ImpliedSpeedKmh(10, -1), 1))
	})
}
