package policy

import "sync/atomic"

// WeightTable holds the learned per-(rule, vertical) weight multipliers fed
// back by the feedback loop. Reads are lock-free; the learning loop publishes
// a fresh map after each persisted update. Staleness of one write is fine.
type WeightTable struct {
	current atomic.Value
}

func weightKey(rule, vertical string) string {
	return rule + "|" + vertical
}

func NewWeightTable() *WeightTable {
	t := &WeightTable{}
	t.current.Store(map[string]float64{})
	return t
}

// Multiplier returns the learned multiplier, 1.0 when none has been learned.
func (t *WeightTable) Multiplier(rule, vertical string) float64 {
	m := t.current.Load().(map[string]float64)
	if w, ok := m[weightKey(rule, vertical)]; ok {
		return w
	}
	return 1.0
}

// Set publishes one learned weight.
func (t *WeightTable) Set(rule, vertical string, weight float64) {
	old := t.current.Load().(map[string]float64)
	next := make(map[string]float64, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[weightKey(rule, vertical)] = weight
	t.current.Store(next)
}

// Replace swaps in a full table, used when warming from the durable store at
// startup. Keys are (rule, vertical) pairs.
func (t *WeightTable) Replace(weights map[[2]string]float64) {
	next := make(map[string]float64, len(weights))
	for k, v := range weights {
		next[weightKey(k[0], k[1])] = v
	}
	t.current.Store(next)
}
