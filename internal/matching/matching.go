// Package matching evaluates contract criteria against event envelopes.
// Pure functions only: no I/O, no state, deterministic.
package matching

import (
	"strings"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
)

// MatchCriterion evaluates one criterion against one property value.
// present reports whether the property exists on the event at all.
//
// Precedence: pattern, then match set/scalar, then bare presence check.
// An absent property fails a required criterion and vacuously satisfies an
// optional one, regardless of match/pattern.
func MatchCriterion(value string, present bool, c v1.PropertyCriterion) bool {
	if !present {
		return !c.IsRequired()
	}

	switch {
	case c.Pattern != "":
		return matchPattern(value, c.Pattern)
	case len(c.Match) > 0:
		return c.Match.Contains(value)
	default:
		// Presence check: any value passes.
		return true
	}
}

// MatchEvent reports whether every criterion of the contract passes against
// the event. A contract with no criteria matches every event.
func MatchEvent(evt *v1.Event, contract *v1.Contract) bool {
	if contract.SourceCriterion != nil {
		if !MatchCriterion(evt.Source, evt.Source != "", *contract.SourceCriterion) {
			return false
		}
	}
	if contract.TypeCriterion != nil {
		if !MatchCriterion(evt.Type, evt.Type != "", *contract.TypeCriterion) {
			return false
		}
	}
	for name, crit := range contract.Properties {
		value, present := evt.Property(name)
		if !MatchCriterion(value, present, crit) {
			return false
		}
	}
	return true
}

// matchPattern compares dot-segmented strings. Segment counts must be equal;
// "*" matches exactly one segment, anything else is literal equality.
func matchPattern(value, pattern string) bool {
	valueSegs := strings.Split(value, ".")
	patternSegs := strings.Split(pattern, ".")
	if len(valueSegs) != len(patternSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg == "*" {
			continue
		}
		if seg != valueSegs[i] {
			return false
		}
	}
	return true
}
