// Package readiness scores how ready a scope is to absorb verified work.
// A scope's readiness R is the product of three factors in [0,1]:
// logical completeness (L), progress (P), and verification depth (V).
// The factor derivations are policy, not law, so they are pluggable.
package readiness

import (
	"math"

	"warden/api/internal/store"
)

// Factors holds one scope's readiness inputs and the resulting score.
type Factors struct {
	ScopeID          string  `json:"scopeId"`
	ScopeName        string  `json:"scopeName"`
	L                float64 `json:"l"`
	P                float64 `json:"p"`
	V                float64 `json:"v"`
	R                float64 `json:"r"`
	AllocatedWU      int     `json:"allocatedWu"`
	VerifiedWU       int     `json:"verifiedWu"`
	DeliverableCount int     `json:"deliverableCount"`
	DeliverablesDone int     `json:"deliverablesDone"`
}

// Policy computes the three factors for one scope given its deliverables and
// whether the latest integrity run passed.
type Policy interface {
	Score(scope store.Scope, deliverables []store.Deliverable, integrityPassed bool) (l, p, v float64)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(scope store.Scope, deliverables []store.Deliverable, integrityPassed bool) (l, p, v float64)

func (f PolicyFunc) Score(scope store.Scope, deliverables []store.Deliverable, integrityPassed bool) (float64, float64, float64) {
	return f(scope, deliverables, integrityPassed)
}

// dmaicFactor weights a deliverable's verification depth by its DMAIC phase.
var dmaicFactor = map[string]float64{
	"DEFINE":  0.2,
	"MEASURE": 0.4,
	"ANALYZE": 0.6,
	"IMPROVE": 0.8,
	"CONTROL": 1.0,
}

// doneStatuses are the deliverable statuses that count toward progress.
var doneStatuses = map[string]struct{}{
	"DONE":     {},
	"VERIFIED": {},
	"LOCKED":   {},
}

// Default is the standard policy:
//   - L: 0.5 for a declared purpose and boundary (0.25 for purpose alone),
//     plus 0.25 scaled by the share of deliverables with an evidence spec
//     and a verification method, plus 0.25 if the latest integrity run
//     passed, capped at 1.
//   - P: share of deliverables in a done status; 0 when the scope is empty.
//   - V: mean DMAIC factor across deliverables; 0 when the scope is empty.
type Default struct{}

func (Default) Score(scope store.Scope, deliverables []store.Deliverable, integrityPassed bool) (float64, float64, float64) {
	var l float64
	switch {
	case scope.Purpose != "" && scope.Boundary != "":
		l = 0.5
	case scope.Purpose != "":
		l = 0.25
	}
	if n := len(deliverables); n > 0 {
		complete := 0
		for _, d := range deliverables {
			if DoDSpecified(d) {
				complete++
			}
		}
		l += 0.25 * float64(complete) / float64(n)
	}
	if integrityPassed {
		l += 0.25
	}
	if l > 1 {
		l = 1
	}

	var p, v float64
	if n := len(deliverables); n > 0 {
		done := 0
		var depth float64
		for _, d := range deliverables {
			if _, ok := doneStatuses[d.Status]; ok {
				done++
			}
			if factor, ok := dmaicFactor[d.DMAICPhase]; ok {
				depth += factor
			} else {
				depth += dmaicFactor["DEFINE"]
			}
		}
		p = float64(done) / float64(n)
		v = depth / float64(n)
	}
	return l, p, v
}

// DoDSpecified reports whether the deliverable declares an evidence spec and
// a verification method. The logic score only credits these two fields.
func DoDSpecified(d store.Deliverable) bool {
	return d.DoDEvidenceSpec != "" && d.DoDVerificationMethod != ""
}

// DoDComplete reports whether all four definition-of-done fields are set.
func DoDComplete(d store.Deliverable) bool {
	return d.DoDEvidenceSpec != "" && d.DoDVerificationMethod != "" &&
		d.DoDQualityBar != "" && d.DoDFailureModes != ""
}

// Done reports whether a deliverable status counts as done.
func Done(status string) bool {
	_, ok := doneStatuses[status]
	return ok
}

// Compute scores one scope under the given policy.
func Compute(policy Policy, scope store.Scope, deliverables []store.Deliverable, integrityPassed bool) Factors {
	l, p, v := policy.Score(scope, deliverables, integrityPassed)
	done := 0
	for _, d := range deliverables {
		if Done(d.Status) {
			done++
		}
	}
	return Factors{
		ScopeID:          scope.ID,
		ScopeName:        scope.Name,
		L:                round3(l),
		P:                round3(p),
		V:                round3(v),
		R:                round3(l * p * v),
		AllocatedWU:      scope.AllocatedWU,
		VerifiedWU:       scope.VerifiedWU,
		DeliverableCount: len(deliverables),
		DeliverablesDone: done,
	}
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}
