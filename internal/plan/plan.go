// Package plan holds the core planning types shared by the session,
// the durable store, the generators and the gateway: the four life
// domains, per-domain targets, month-indexed missions and the
// primary-target gate.
package plan

import "fmt"

// Domain is one of the four fixed life/business categories tracked
// independently through the cascade.
type Domain string

const (
	Body     Domain = "body"
	Being    Domain = "being"
	Balance  Domain = "balance"
	Business Domain = "business"
)

// AllDomains lists the domains in canonical display order.
var AllDomains = []Domain{Body, Being, Balance, Business}

// ParseDomain validates a raw domain string.
func ParseDomain(raw string) (Domain, error) {
	d := Domain(raw)
	for _, known := range AllDomains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", raw)
}

// MissionEntry is one month's mission and its rationale.
type MissionEntry struct {
	Mission string `json:"mission"`
	Why     string `json:"why"`
}

// MonthMap maps a month label to its mission. At most three entries per
// quarter, keys unique, insertion order irrelevant.
type MonthMap map[string]MissionEntry

// Targets is the per-domain planning record: one or two competing
// targets, optional narratives, the persisted primary-gate decision and
// the expanded mission maps.
type Targets struct {
	Target1    string `json:"target1,omitempty"`
	Narrative1 string `json:"narrative1,omitempty"`
	Target2    string `json:"target2,omitempty"`
	Narrative2 string `json:"narrative2,omitempty"`

	// PrimaryIsTarget1 is nil while undecided. Only meaningful when both
	// targets are present.
	PrimaryIsTarget1 *bool `json:"primary_is_target1,omitempty"`

	Missions1 MonthMap `json:"monthly_missions1,omitempty"`
	Missions2 MonthMap `json:"monthly_missions2,omitempty"`
}

// HasTarget1 reports whether the first target slot is populated.
func (t Targets) HasTarget1() bool { return t.Target1 != "" }

// HasTarget2 reports whether the second target slot is populated.
func (t Targets) HasTarget2() bool { return t.Target2 != "" }

// TwoTargets reports whether both target slots are populated.
func (t Targets) TwoTargets() bool { return t.HasTarget1() && t.HasTarget2() }

// IsEmpty reports whether no target slot is populated.
func (t Targets) IsEmpty() bool { return !t.HasTarget1() && !t.HasTarget2() }

// HasMissions reports whether any mission map is populated.
func (t Targets) HasMissions() bool { return len(t.Missions1) > 0 || len(t.Missions2) > 0 }

// Clone returns a deep copy, so session snapshots never alias store state.
func (t Targets) Clone() Targets {
	out := t
	if t.PrimaryIsTarget1 != nil {
		v := *t.PrimaryIsTarget1
		out.PrimaryIsTarget1 = &v
	}
	out.Missions1 = cloneMonthMap(t.Missions1)
	out.Missions2 = cloneMonthMap(t.Missions2)
	return out
}

func cloneMonthMap(m MonthMap) MonthMap {
	if m == nil {
		return nil
	}
	out := make(MonthMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasAnyTarget reports whether at least one domain has a populated target.
// Gates whether mission expansion may run at all.
func HasAnyTarget(targets map[Domain]Targets) bool {
	for _, t := range targets {
		if !t.IsEmpty() {
			return true
		}
	}
	return false
}

// GateState is the per-domain primary-target gate.
type GateState int

const (
	// GateNotApplicable: zero or one target; never blocks progression.
	GateNotApplicable GateState = iota
	// GateUndecided: two targets, no persisted decision; blocks progression.
	GateUndecided
	// GateResolved: two targets with a persisted decision.
	GateResolved
)

func (g GateState) String() string {
	switch g {
	case GateNotApplicable:
		return "not_applicable"
	case GateUndecided:
		return "undecided"
	case GateResolved:
		return "resolved"
	}
	return "unknown"
}

// Gate derives the gate state from a domain record. No persistence call is
// needed for a one-target domain to read as NotApplicable.
func Gate(t Targets) GateState {
	if !t.TwoTargets() {
		return GateNotApplicable
	}
	if t.PrimaryIsTarget1 == nil {
		return GateUndecided
	}
	return GateResolved
}

// Resolved is the primary target data handed to daily-action generation.
type Resolved struct {
	Domain    Domain
	Target    string
	Narrative string
	Missions  MonthMap
}

// ResolvePrimary selects the primary slot for a domain. Target-1 wins
// unless the gate is resolved to target-2; an undecided gate falls back to
// target-1 so generation is never blocked on the decision.
func ResolvePrimary(d Domain, t Targets) Resolved {
	if Gate(t) == GateResolved && t.PrimaryIsTarget1 != nil && !*t.PrimaryIsTarget1 {
		return Resolved{Domain: d, Target: t.Target2, Narrative: t.Narrative2, Missions: cloneMonthMap(t.Missions2)}
	}
	return Resolved{Domain: d, Target: t.Target1, Narrative: t.Narrative1, Missions: cloneMonthMap(t.Missions1)}
}

// CanProceed is the global progression predicate: missions exist and no
// domain sits at an undecided gate.
func CanProceed(targets map[Domain]Targets) bool {
	missionsExist := false
	for _, t := range targets {
		if t.HasMissions() {
			missionsExist = true
		}
		if Gate(t) == GateUndecided {
			return false
		}
	}
	return missionsExist
}
