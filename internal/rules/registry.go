package rules

import (
	"fmt"
	"sort"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// Registry holds the rule catalogue. It is built once at startup and read
// concurrently afterwards; registration is not safe after Build returns.
type Registry struct {
	byName map[string]*Rule
	all    []*Rule
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Rule)}
}

// Register adds a rule, failing on a duplicate name. Startup aborts on error
// so a catalogue with two rules of the same name can never serve traffic.
func (r *Registry) Register(rule Rule) error {
	if rule.Name == "" || rule.Check == nil {
		return fmt.Errorf("rule %q: missing name or check function", rule.Name)
	}
	if _, exists := r.byName[rule.Name]; exists {
		return fmt.Errorf("rule %q: %w", rule.Name, models.ErrDuplicateRule)
	}
	cp := rule
	r.byName[rule.Name] = &cp
	r.all = append(r.all, &cp)
	return nil
}

// All returns every rule in stable name order.
func (r *Registry) All() []*Rule {
	out := make([]*Rule, len(r.all))
	copy(out, r.all)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForVertical returns the rules applicable to one vertical, in stable name
// order.
func (r *Registry) ForVertical(vertical string) []*Rule {
	var out []*Rule
	for _, rule := range r.all {
		if rule.AppliesTo(vertical) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Get(name string) (*Rule, bool) {
	rule, ok := r.byName[name]
	return rule, ok
}

func (r *Registry) Len() int {
	return len(r.all)
}

// Options carries the few catalogue thresholds that come from config rather
// than being fixed per rule.
type Options struct {
	LoanStackingTenants int
}

// Build assembles the full catalogue. Any duplicate registration fails the
// whole build.
func Build(opts Options) (*Registry, error) {
	reg := NewRegistry()
	groups := [][]Rule{
		accountRules(),
		deviceRules(),
		velocityRules(),
		identityRules(),
		geoRules(),
		lendingRules(opts),
		paymentRules(),
		bettingRules(),
		cryptoRules(),
		marketplaceRules(),
	}
	for _, group := range groups {
		for _, rule := range group {
			if err := reg.Register(rule); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}
