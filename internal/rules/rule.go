package rules

import (
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/models"
)

// Result is what a fired rule reports back. Confidence 0 means "use the
// rule's registered default".
type Result struct {
	Confidence float64
	Message    string
	Metadata   models.JSONB
}

// CheckFunc inspects the evaluation context and returns nil when the rule
// does not apply. Check functions must be pure: no I/O, no shared state, and
// they must treat missing inputs as "do not fire".
type CheckFunc func(*features.Context) *Result

// Rule is one entry of the catalogue.
type Rule struct {
	Name       string
	Severity   string
	BaseScore  float64
	Confidence float64
	// Verticals the rule applies to; empty means all.
	Verticals []string
	Check     CheckFunc
}

// AppliesTo reports whether the rule evaluates for the given vertical.
func (r *Rule) AppliesTo(vertical string) bool {
	if len(r.Verticals) == 0 {
		return true
	}
	for _, v := range r.Verticals {
		if v == vertical {
			return true
		}
	}
	return false
}

// Flag materializes a fired rule into a response flag. The weighted score is
// filled in later by the aggregator.
func (r *Rule) Flag(res *Result) models.Flag {
	confidence := res.Confidence
	if confidence == 0 {
		confidence = r.Confidence
	}
	return models.Flag{
		Rule:       r.Name,
		Severity:   r.Severity,
		BaseScore:  r.BaseScore,
		Confidence: confidence,
		Message:    res.Message,
		Metadata:   res.Metadata,
	}
}

func fire(message string) *Result {
	return &Result{Message: message}
}

func fireMeta(message string, meta models.JSONB) *Result {
	return &Result{Message: message, Metadata: meta}
}
