package planning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
)

func TestExpandMissionsRequiresTargets(t *testing.T) {
	s := newTestSession(t, newFakeStore(), &fakeMissions{}, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()

	if _, err := s.ExpandMissions(context.Background()); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("ExpandMissions with no targets = %v", err)
	}
}

func TestExpandMissionsOmitsEmptyDomains(t *testing.T) {
	store := newFakeStore()
	missions := &fakeMissions{}
	s := newTestSession(t, store, missions, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run a marathon"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if err := s.UpdateTargets(ctx, plan.Business, plan.Targets{Target1: "Ship v2", Target2: "Hire two engineers"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}

	failures, err := s.ExpandMissions(ctx)
	if err != nil {
		t.Fatalf("ExpandMissions: %v", err)
	}
	if failures != nil {
		t.Fatalf("failures = %v", failures)
	}
	if len(missions.lastReq) != 2 {
		t.Fatalf("generator received %d domains, want only the 2 with targets", len(missions.lastReq))
	}

	snap := s.Snapshot()
	body := snap.Targets[plan.Body]
	if len(body.Missions1) != 3 || body.Missions2 != nil {
		t.Fatalf("body missions = %d/%d entries", len(body.Missions1), len(body.Missions2))
	}
	biz := snap.Targets[plan.Business]
	if len(biz.Missions1) != 3 || len(biz.Missions2) != 3 {
		t.Fatalf("business missions = %d/%d entries, want both slots covered", len(biz.Missions1), len(biz.Missions2))
	}
	if snap.Stages[plan.Body] != persistence.StageComplete {
		t.Fatalf("body stage = %q", snap.Stages[plan.Body])
	}
	if snap.Stages[plan.Business] != persistence.StagePrimaryPending {
		t.Fatalf("business stage = %q, two-target domain should await the gate", snap.Stages[plan.Business])
	}
}

func TestReexpansionKeepsResolvedStage(t *testing.T) {
	store := newFakeStore()
	s := newTestSession(t, store, &fakeMissions{}, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Business, plan.Targets{Target1: "Ship v2", Target2: "Hire two engineers"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if _, err := s.ExpandMissions(ctx); err != nil {
		t.Fatalf("first expansion: %v", err)
	}
	if got := store.storedStage("2025-Q3", plan.Business); got != persistence.StagePrimaryPending {
		t.Fatalf("stage after first expansion = %q", got)
	}
	if err := s.SelectPrimary(ctx, plan.Business, true); err != nil {
		t.Fatalf("SelectPrimary: %v", err)
	}

	// Re-expanding with the gate already resolved must not move the stored
	// stage back to pending.
	if _, err := s.ExpandMissions(ctx); err != nil {
		t.Fatalf("re-expansion: %v", err)
	}
	if got := store.storedStage("2025-Q3", plan.Business); got != persistence.StageComplete {
		t.Fatalf("stored stage = %q after re-expansion, want %q kept", got, persistence.StageComplete)
	}
	if got := s.Snapshot().Stages[plan.Business]; got != persistence.StageComplete {
		t.Fatalf("in-memory stage = %q after re-expansion", got)
	}
}

func TestStaleExpansionStageReflectsItsOwnPeriod(t *testing.T) {
	store := newFakeStore()
	missions := &fakeMissions{block: make(chan struct{})}
	s := newTestSession(t, store, missions, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Business, plan.Targets{Target1: "Ship v2", Target2: "Hire two engineers"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.ExpandMissions(ctx)
		close(done)
	}()
	for i := 0; missions.callCount() == 0; i++ {
		if i > 100 {
			t.Fatal("expansion never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.SetPeriod(ctx, period.Key("2025-Q4")); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	close(missions.block)
	<-done

	// The durable write lands under the old key with the stage its own
	// targets dictate, not one derived from the new period's empty state.
	if got := store.storedStage("2025-Q3", plan.Business); got != persistence.StagePrimaryPending {
		t.Fatalf("stale write stored stage %q, want %q for a two-target domain", got, persistence.StagePrimaryPending)
	}
}

func TestGenerationBatchesCarryTraceIDs(t *testing.T) {
	store := newFakeStore()
	missions := &fakeMissions{}
	actions := &fakeActions{}
	s := newTestSession(t, store, missions, actions, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run a marathon"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if _, err := s.ExpandMissions(ctx); err != nil {
		t.Fatalf("ExpandMissions: %v", err)
	}
	if _, err := s.GenerateDailyActions(ctx); err != nil {
		t.Fatalf("GenerateDailyActions: %v", err)
	}

	if got := missions.traceID(); got == "" || got == "-" {
		t.Fatalf("mission batch trace id = %q", got)
	}
	if got := actions.traceID(); got == "" || got == "-" {
		t.Fatalf("action batch trace id = %q", got)
	}
}

func TestExpandMissionsIsolatesPerDomainFailure(t *testing.T) {
	store := newFakeStore()
	missions := &fakeMissions{fail: map[plan.Domain]error{plan.Being: errors.New("model refused")}}
	s := newTestSession(t, store, missions, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	for _, d := range []plan.Domain{plan.Body, plan.Being} {
		if err := s.UpdateTargets(ctx, d, plan.Targets{Target1: "Target for " + string(d)}); err != nil {
			t.Fatalf("UpdateTargets(%s): %v", d, err)
		}
	}

	failures, err := s.ExpandMissions(ctx)
	if err != nil {
		t.Fatalf("ExpandMissions: %v", err)
	}
	if len(failures) != 1 || failures[plan.Being] == nil {
		t.Fatalf("failures = %v, want only the failing domain", failures)
	}

	snap := s.Snapshot()
	if !snap.Targets[plan.Body].HasMissions() {
		t.Fatal("healthy domain lost its missions to a sibling failure")
	}
	if snap.Targets[plan.Being].HasMissions() {
		t.Fatal("failed domain should have no missions")
	}
}

func TestExpandMissionsRejectsReentry(t *testing.T) {
	store := newFakeStore()
	missions := &fakeMissions{block: make(chan struct{})}
	s := newTestSession(t, store, missions, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.ExpandMissions(ctx)
		close(done)
	}()
	for i := 0; missions.callCount() == 0; i++ {
		if i > 100 {
			t.Fatal("expansion never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !s.Expanding() {
		t.Fatal("Expanding() should report the in-flight batch")
	}
	if _, err := s.ExpandMissions(ctx); !errors.Is(err, ErrExpansionInFlight) {
		t.Fatalf("concurrent ExpandMissions = %v", err)
	}
	close(missions.block)
	<-done
}

func TestAutoExpandFiresOncePerSession(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	if err := store.SaveTargets(ctx, "2025-Q3", plan.Body, plan.Targets{Target1: "Run a marathon"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	missions := &fakeMissions{fail: map[plan.Domain]error{plan.Body: errors.New("timeout")}}
	s := newTestSession(t, store, missions, &fakeActions{}, period.Key("2025-Q3"))
	defer s.Close()

	failures, err := s.AutoExpand(ctx)
	if err != nil {
		t.Fatalf("AutoExpand: %v", err)
	}
	if failures[plan.Body] == nil {
		t.Fatal("want the injected failure reported")
	}
	if missions.callCount() != 1 {
		t.Fatalf("generator invoked %d times", missions.callCount())
	}

	// Even with no missions produced, the trigger never re-fires.
	if _, err := s.AutoExpand(ctx); err != nil {
		t.Fatalf("second AutoExpand: %v", err)
	}
	if missions.callCount() != 1 {
		t.Fatalf("auto trigger re-fired: %d calls", missions.callCount())
	}

	// An explicit retry still works.
	missions.mu.Lock()
	missions.fail = nil
	missions.mu.Unlock()
	if _, err := s.ExpandMissions(ctx); err != nil {
		t.Fatalf("explicit retry: %v", err)
	}
	if missions.callCount() != 2 {
		t.Fatalf("explicit retry did not run: %d calls", missions.callCount())
	}
}

func TestAutoExpandSkipsWhenMissionsExist(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	key := period.Key("2025-Q3")
	if err := store.SaveTargets(ctx, key.String(), plan.Body, plan.Targets{Target1: "Run"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.SaveMissions(ctx, key.String(), plan.Body, cannedMonthMap(key, "Run"), nil, persistence.StageComplete); err != nil {
		t.Fatalf("seed missions: %v", err)
	}

	missions := &fakeMissions{}
	s := newTestSession(t, store, missions, &fakeActions{}, key)
	defer s.Close()

	if _, err := s.AutoExpand(ctx); err != nil {
		t.Fatalf("AutoExpand: %v", err)
	}
	if missions.callCount() != 0 {
		t.Fatal("auto trigger must not run when missions are already stored")
	}
}

func TestGenerateDailyActionsResolvesPrimary(t *testing.T) {
	store := newFakeStore()
	actions := &fakeActions{}
	s := newTestSession(t, store, &fakeMissions{}, actions, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	// One-target domain resolves to target-1; a resolved gate picks target-2.
	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run a marathon", Narrative1: "26.2 by Sept"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if err := s.UpdateTargets(ctx, plan.Business, plan.Targets{Target1: "Ship v2", Target2: "Hire two engineers"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if _, err := s.ExpandMissions(ctx); err != nil {
		t.Fatalf("ExpandMissions: %v", err)
	}
	if err := s.SelectPrimary(ctx, plan.Business, false); err != nil {
		t.Fatalf("SelectPrimary: %v", err)
	}

	if _, err := s.GenerateDailyActions(ctx); err != nil {
		t.Fatalf("GenerateDailyActions: %v", err)
	}

	resolved := actions.resolvedInputs()
	if len(resolved) != 2 {
		t.Fatalf("resolved %d domains, want 2", len(resolved))
	}
	byDomain := make(map[plan.Domain]plan.Resolved)
	for _, r := range resolved {
		byDomain[r.Domain] = r
	}
	if got := byDomain[plan.Body]; got.Target != "Run a marathon" || got.Narrative != "26.2 by Sept" {
		t.Fatalf("body resolved to %+v", got)
	}
	if got := byDomain[plan.Business]; got.Target != "Hire two engineers" {
		t.Fatalf("business resolved to %q, want the chosen target-2", got.Target)
	}
}

func TestGenerateDailyActionsDefaultsAllSelected(t *testing.T) {
	store := newFakeStore()
	actions := &fakeActions{actions: map[plan.Domain][]string{
		plan.Body: {"Morning run", "Stretch", "Sleep by 10"},
	}}
	s := newTestSession(t, store, &fakeMissions{}, actions, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run a marathon"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if _, err := s.GenerateDailyActions(ctx); err != nil {
		t.Fatalf("GenerateDailyActions: %v", err)
	}

	snap := s.Snapshot()
	if got := snap.Selections[plan.Body]; len(got) != 3 {
		t.Fatalf("initial selection = %v, want all generated actions", got)
	}

	settle()
	if n := len(store.writes()); n != 1 {
		t.Fatalf("generation scheduled %d autosaves, want 1", n)
	}
}

func TestRegenerationReplacesSetAndPrunesSelection(t *testing.T) {
	store := newFakeStore()
	actions := &fakeActions{actions: map[plan.Domain][]string{
		plan.Body: {"Morning run", "Stretch", "Sleep by 10"},
	}}
	s := newTestSession(t, store, &fakeMissions{}, actions, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run a marathon"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}
	if _, err := s.GenerateDailyActions(ctx); err != nil {
		t.Fatalf("first generation: %v", err)
	}
	s.SetSelection(plan.Body, []string{"Morning run", "Sleep by 10"})

	// Regenerate with a partially overlapping set.
	actions.mu.Lock()
	actions.actions[plan.Body] = []string{"Morning run", "Track meals"}
	actions.mu.Unlock()
	if _, err := s.GenerateDailyActions(ctx); err != nil {
		t.Fatalf("second generation: %v", err)
	}

	snap := s.Snapshot()
	if got := snap.ActionSets[plan.Body]; len(got) != 2 || got[1] != "Track meals" {
		t.Fatalf("action set = %v, want full replacement", got)
	}
	sel := snap.Selections[plan.Body]
	if len(sel) != 1 || sel[0] != "Morning run" {
		t.Fatalf("selection = %v, want vanished entries dropped silently", sel)
	}
}

func TestStaleGenerationNotAppliedAfterPeriodSwitch(t *testing.T) {
	store := newFakeStore()
	actions := &fakeActions{block: make(chan struct{})}
	s := newTestSession(t, store, &fakeMissions{}, actions, period.Key("2025-Q3"))
	defer s.Close()
	ctx := context.Background()

	if err := s.UpdateTargets(ctx, plan.Body, plan.Targets{Target1: "Run"}); err != nil {
		t.Fatalf("UpdateTargets: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.GenerateDailyActions(ctx)
		done <- err
	}()
	for i := 0; ; i++ {
		actions.mu.Lock()
		started := actions.calls > 0
		actions.mu.Unlock()
		if started {
			break
		}
		if i > 100 {
			t.Fatal("generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.SetPeriod(ctx, period.Key("2025-Q4")); err != nil {
		t.Fatalf("SetPeriod: %v", err)
	}
	close(actions.block)
	if err := <-done; err != nil {
		t.Fatalf("GenerateDailyActions: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.ActionSets) != 0 || len(snap.Selections) != 0 {
		t.Fatalf("stale generation leaked into the new period: %+v", snap.ActionSets)
	}
	settle()
	if n := len(store.writes()); n != 0 {
		t.Fatalf("stale generation scheduled %d autosaves", n)
	}
}
