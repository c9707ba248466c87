package policy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightTable(t *testing.T) {
	table := NewWeightTable()

	t.Run("unlearned rules read 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, table.Multiplier("any_rule", "lending"))
	})

	t.Run("set and read back", func(t *testing.T) {
		table.Set("noisy", "lending", 0.4)
		assert.Equal(t, 0.4, table.Multiplier("noisy", "lending"))
		// Scoped per vertical.
		assert.Equal(t, 1.0, table.Multiplier("noisy", "crypto"))
	})

	t.Run("replace swaps the whole table", func(t *testing.T) {
		table := NewWeightTable()
		table.Set("old", "lending", 0.5)
		table.Replace(map[[2]string]float64{
			{"warmed", "crypto"}: 2.1,
		})
		assert.Equal(t, 2.1, table.Multiplier("warmed", "crypto"))
		assert.Equal(t, 1.0, table.Multiplier("old", "lending"))
	})
}

func TestWeightTableConcurrent(t *testing.T) {
	table := NewWeightTable()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.Set("rule", "lending", 0.5)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m := table.Multiplier("rule", "lending")
				assert.True(t, m == 0.5 || m == 1.0)
			}
		}()
	}
	wg.Wait()
}
