package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/scoring-engine/internal/models"
)

func testThresholds() map[string]int {
	return map[string]int{"lending": 65, "crypto": 50}
}

func TestNewStore(t *testing.T) {
	store := NewStore(testThresholds())
	snap := store.Snapshot()

	t.Run("configured thresholds applied", func(t *testing.T) {
		assert.Equal(t, 65, snap.Threshold("lending"))
		assert.Equal(t, 50, snap.Threshold("crypto"))
	})

	t.Run("unconfigured verticals default to 60", func(t *testing.T) {
		assert.Equal(t, 60, snap.Threshold("payments"))
		assert.Equal(t, 60, snap.Threshold("unknown"))
	})

	t.Run("lending weighs loan stacking up", func(t *testing.T) {
		w, enabled := snap.Weight("lending", "loan_stacking")
		assert.True(t, enabled)
		assert.Equal(t, 1.5, w)

		w, enabled = snap.Weight("fintech", "loan_stacking")
		assert.True(t, enabled)
		assert.Equal(t, 1.0, w)
	})

	t.Run("every vertical is present", func(t *testing.T) {
		assert.Len(t, snap.Thresholds(), len(models.Verticals))
	})
}

func TestStoreUpdate(t *testing.T) {
	t.Run("takes effect on next snapshot", func(t *testing.T) {
		store := NewStore(testThresholds())
		before := store.Snapshot()

		require.NoError(t, store.Update("crypto", VerticalPolicy{
			Threshold: 45,
			Weights:   map[string]float64{"suspicious_wallet": 2.0},
			Disabled:  map[string]bool{"p2p_velocity": true},
		}))

		after := store.Snapshot()
		assert.Equal(t, 45, after.Threshold("crypto"))

		w, enabled := after.Weight("crypto", "suspicious_wallet")
		assert.True(t, enabled)
		assert.Equal(t, 2.0, w)

		_, enabled = after.Weight("crypto", "p2p_velocity")
		assert.False(t, enabled)

		// In-flight readers keep their snapshot.
		assert.Equal(t, 50, before.Threshold("crypto"))
	})

	t.Run("validation", func(t *testing.T) {
		store := NewStore(testThresholds())
		tests := []struct {
			name     string
			vertical string
			p        VerticalPolicy
		}{
			{"unknown vertical", "retail", VerticalPolicy{Threshold: 60}},
			{"zero threshold", "crypto", VerticalPolicy{Threshold: 0}},
			{"threshold above 100", "crypto", VerticalPolicy{Threshold: 101}},
			{"negative weight", "crypto", VerticalPolicy{Threshold: 60, Weights: map[string]float64{"r": -0.1}}},
			{"weight above cap", "crypto", VerticalPolicy{Threshold: 60, Weights: map[string]float64{"r": 3.1}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.Update(tt.vertical, tt.p)
				assert.ErrorIs(t, err, models.ErrInvalidInput)
			})
		}
	})

	t.Run("mutating the input does not leak into the snapshot", func(t *testing.T) {
		store := NewStore(testThresholds())
		p := VerticalPolicy{Threshold: 55, Weights: map[string]float64{"r": 2.0}}
		require.NoError(t, store.Update("crypto", p))
		p.Weights["r"] = 0.1

		w, _ := store.Snapshot().Weight("crypto", "r")
		assert.Equal(t, 2.0, w)
	})
}

func TestSnapshotWeight(t *testing.T) {
	store := NewStore(testThresholds())
	require.NoError(t, store.Update("crypto", VerticalPolicy{
		Threshold: 50,
		Weights:   map[string]float64{"boosted": 2.0, "zeroed": 0},
	}))
	snap := store.Snapshot()

	t.Run("explicit zero disables", func(t *testing.T) {
		_, enabled := snap.Weight("crypto", "zeroed")
		assert.False(t, enabled)
	})

	t.Run("unlisted rules default to 1.0 enabled", func(t *testing.T) {
		w, enabled := snap.Weight("crypto", "anything_else")
		assert.True(t, enabled)
		assert.Equal(t, 1.0, w)
	})
}
