package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// VerticalPolicy is one vertical's decision threshold, per-rule weight
// overrides and enable bits. A weight of 0.0 disables the rule outright.
type VerticalPolicy struct {
	Threshold int                `json:"threshold"`
	Weights   map[string]float64 `json:"weights,omitempty"`
	Disabled  map[string]bool    `json:"disabled,omitempty"`
}

// Snapshot is an immutable view of every vertical's policy. Readers hold a
// snapshot for the duration of one request and never block writers.
type Snapshot struct {
	verticals map[string]VerticalPolicy
}

func (s *Snapshot) Threshold(vertical string) int {
	if p, ok := s.verticals[vertical]; ok {
		return p.Threshold
	}
	return 60
}

// Weight returns the policy multiplier for a rule and whether the rule is
// enabled in this vertical.
func (s *Snapshot) Weight(vertical, rule string) (float64, bool) {
	p, ok := s.verticals[vertical]
	if !ok {
		return 1.0, true
	}
	if p.Disabled[rule] {
		return 0, false
	}
	if w, ok := p.Weights[rule]; ok {
		if w <= 0 {
			return 0, false
		}
		return w, true
	}
	return 1.0, true
}

// Vertical returns a copy of one vertical's policy.
func (s *Snapshot) Vertical(vertical string) (VerticalPolicy, bool) {
	p, ok := s.verticals[vertical]
	if !ok {
		return VerticalPolicy{}, false
	}
	return copyPolicy(p), true
}

// Thresholds returns vertical → threshold for the read-only endpoints.
func (s *Snapshot) Thresholds() map[string]int {
	out := make(map[string]int, len(s.verticals))
	for v, p := range s.verticals {
		out[v] = p.Threshold
	}
	return out
}

// Store publishes policy snapshots via an atomic reference swap. Updates
// build a fresh map; in-flight requests keep whatever snapshot they loaded.
type Store struct {
	current atomic.Value
}

// NewStore seeds every known vertical with its default threshold and the
// built-in weight profile.
func NewStore(thresholds map[string]int) *Store {
	verticals := make(map[string]VerticalPolicy, len(models.Verticals))
	for _, v := range models.Verticals {
		t, ok := thresholds[v]
		if !ok {
			t = 60
		}
		verticals[v] = VerticalPolicy{Threshold: t, Weights: defaultWeights(v)}
	}
	s := &Store{}
	s.current.Store(&Snapshot{verticals: verticals})
	return s
}

// Lenders weigh cross-tenant stacking harder than anyone else.
func defaultWeights(vertical string) map[string]float64 {
	if vertical == models.VerticalLending {
		return map[string]float64{"loan_stacking": 1.5}
	}
	return nil
}

func (st *Store) Snapshot() *Snapshot {
	return st.current.Load().(*Snapshot)
}

// Update replaces one vertical's policy. Takes effect on the next request.
func (st *Store) Update(vertical string, p VerticalPolicy) error {
	if !validVertical(vertical) {
		return fmt.Errorf("unknown vertical %q: %w", vertical, models.ErrInvalidInput)
	}
	if p.Threshold <= 0 || p.Threshold > 100 {
		return fmt.Errorf("threshold %d out of range: %w", p.Threshold, models.ErrInvalidInput)
	}
	for rule, w := range p.Weights {
		if w < 0 || w > 3.0 {
			return fmt.Errorf("weight %.2f for rule %q out of range: %w", w, rule, models.ErrInvalidInput)
		}
	}

	old := st.Snapshot()
	verticals := make(map[string]VerticalPolicy, len(old.verticals))
	for v, existing := range old.verticals {
		verticals[v] = existing
	}
	verticals[vertical] = copyPolicy(p)
	st.current.Store(&Snapshot{verticals: verticals})
	return nil
}

func copyPolicy(p VerticalPolicy) VerticalPolicy {
	cp := VerticalPolicy{Threshold: p.Threshold}
	if len(p.Weights) > 0 {
		cp.Weights = make(map[string]float64, len(p.Weights))
		for k, v := range p.Weights {
			cp.Weights[k] = v
		}
	}
	if len(p.Disabled) > 0 {
		cp.Disabled = make(map[string]bool, len(p.Disabled))
		for k, v := range p.Disabled {
			cp.Disabled[k] = v
		}
	}
	return cp
}

func validVertical(v string) bool {
	for _, known := range models.Verticals {
		if known == v {
			return true
		}
	}
	return false
}
