package plan

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestParseDomain(t *testing.T) {
	for _, d := range AllDomains {
		got, err := ParseDomain(string(d))
		if err != nil || got != d {
			t.Errorf("ParseDomain(%q) = %v, %v", d, got, err)
		}
	}
	if _, err := ParseDomain("career"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestGate(t *testing.T) {
	tests := []struct {
		name string
		t    Targets
		want GateState
	}{
		{name: "no targets", t: Targets{}, want: GateNotApplicable},
		{name: "single target", t: Targets{Target1: "Run a 10k"}, want: GateNotApplicable},
		{name: "second slot only", t: Targets{Target2: "Lose 10 lbs"}, want: GateNotApplicable},
		{name: "two targets undecided", t: Targets{Target1: "Run a 10k", Target2: "Lose 10 lbs"}, want: GateUndecided},
		{name: "two targets resolved", t: Targets{Target1: "a", Target2: "b", PrimaryIsTarget1: boolPtr(true)}, want: GateResolved},
		{
			// A stale decision left over from an edit that removed target2
			// does not make the gate meaningful again.
			name: "decision without second target",
			t:    Targets{Target1: "a", PrimaryIsTarget1: boolPtr(false)},
			want: GateNotApplicable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Gate(tt.t); got != tt.want {
				t.Errorf("Gate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanProceed(t *testing.T) {
	missions := MonthMap{"July": {Mission: "Base mileage", Why: "endurance"}}

	t.Run("blocked by undecided two-target domain", func(t *testing.T) {
		targets := map[Domain]Targets{
			Body: {Target1: "Run a 10k", Target2: "Lose 10 lbs", Missions1: missions, Missions2: missions},
		}
		if CanProceed(targets) {
			t.Error("expected blocked while gate undecided")
		}
		targets[Body] = Targets{
			Target1: "Run a 10k", Target2: "Lose 10 lbs",
			Missions1: missions, Missions2: missions,
			PrimaryIsTarget1: boolPtr(true),
		}
		if !CanProceed(targets) {
			t.Error("expected proceed after decision persisted")
		}
	})

	t.Run("single-target domain never blocks", func(t *testing.T) {
		targets := map[Domain]Targets{
			Being: {Target1: "Meditate daily", Missions1: missions},
		}
		if !CanProceed(targets) {
			t.Error("single-target domain blocked progression")
		}
	})

	t.Run("no missions means no progression", func(t *testing.T) {
		targets := map[Domain]Targets{
			Being: {Target1: "Meditate daily"},
		}
		if CanProceed(targets) {
			t.Error("expected blocked with no missions recorded")
		}
	})
}

func TestResolvePrimary(t *testing.T) {
	m1 := MonthMap{"July": {Mission: "m1"}}
	m2 := MonthMap{"July": {Mission: "m2"}}
	base := Targets{
		Target1: "Run a 10k", Narrative1: "n1", Missions1: m1,
		Target2: "Lose 10 lbs", Narrative2: "n2", Missions2: m2,
	}

	t.Run("undecided falls back to target1", func(t *testing.T) {
		r := ResolvePrimary(Body, base)
		if r.Target != "Run a 10k" || r.Narrative != "n1" || r.Missions["July"].Mission != "m1" {
			t.Errorf("unexpected resolution: %+v", r)
		}
	})

	t.Run("resolved to target2", func(t *testing.T) {
		tt := base
		tt.PrimaryIsTarget1 = boolPtr(false)
		r := ResolvePrimary(Body, tt)
		if r.Target != "Lose 10 lbs" || r.Missions["July"].Mission != "m2" {
			t.Errorf("unexpected resolution: %+v", r)
		}
	})

	t.Run("not applicable defaults to target1", func(t *testing.T) {
		r := ResolvePrimary(Being, Targets{Target1: "Meditate", Missions1: m1})
		if r.Target != "Meditate" {
			t.Errorf("unexpected resolution: %+v", r)
		}
	})
}

func TestHasAnyTarget(t *testing.T) {
	if HasAnyTarget(map[Domain]Targets{}) {
		t.Error("empty map should have no targets")
	}
	if HasAnyTarget(map[Domain]Targets{Body: {}, Being: {}}) {
		t.Error("empty records should have no targets")
	}
	if !HasAnyTarget(map[Domain]Targets{Body: {}, Balance: {Target2: "Read more"}}) {
		t.Error("expected target detected in second slot")
	}
}

func TestClone(t *testing.T) {
	orig := Targets{
		Target1:          "a",
		PrimaryIsTarget1: boolPtr(true),
		Missions1:        MonthMap{"July": {Mission: "m"}},
	}
	cp := orig.Clone()
	cp.Missions1["July"] = MissionEntry{Mission: "changed"}
	*cp.PrimaryIsTarget1 = false

	if orig.Missions1["July"].Mission != "m" {
		t.Error("clone aliased mission map")
	}
	if !*orig.PrimaryIsTarget1 {
		t.Error("clone aliased gate pointer")
	}
}
