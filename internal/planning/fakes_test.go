package planning

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/quarterdeck/internal/generation"
	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
	"github.com/basket/quarterdeck/internal/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory PlanStore recording every write.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]map[plan.Domain]persistence.PlanRow

	selectionWrites []selectionWrite

	failSetPrimary    error
	failSaveTargets   error
	failSelections    error
	selectionsBlocked chan struct{} // non-nil: SaveSelections waits on it
}

type selectionWrite struct {
	period     string
	selections map[plan.Domain][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[plan.Domain]persistence.PlanRow)}
}

func (f *fakeStore) row(periodKey string, d plan.Domain) persistence.PlanRow {
	if f.rows[periodKey] == nil {
		f.rows[periodKey] = make(map[plan.Domain]persistence.PlanRow)
	}
	row, ok := f.rows[periodKey][d]
	if !ok {
		row = persistence.PlanRow{Period: periodKey, Domain: d}
	}
	return row
}

func (f *fakeStore) LoadPlan(_ context.Context, periodKey string) (map[plan.Domain]persistence.PlanRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[plan.Domain]persistence.PlanRow)
	for d, row := range f.rows[periodKey] {
		row.Targets = row.Targets.Clone()
		row.DailyActions = append([]string(nil), row.DailyActions...)
		out[d] = row
	}
	return out, nil
}

func (f *fakeStore) SaveTargets(_ context.Context, periodKey string, d plan.Domain, t plan.Targets) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveTargets != nil {
		return f.failSaveTargets
	}
	row := f.row(periodKey, d)
	row.Targets.Target1, row.Targets.Narrative1 = t.Target1, t.Narrative1
	row.Targets.Target2, row.Targets.Narrative2 = t.Target2, t.Narrative2
	f.rows[periodKey][d] = row
	return nil
}

func (f *fakeStore) SaveMissions(_ context.Context, periodKey string, d plan.Domain, m1, m2 plan.MonthMap, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.row(periodKey, d)
	row.Targets.Missions1 = m1
	row.Targets.Missions2 = m2
	// An empty stage leaves the stored indicator untouched, as the sqlite
	// store does.
	if stage != "" {
		row.Stage = stage
	}
	f.rows[periodKey][d] = row
	return nil
}

func (f *fakeStore) storedStage(periodKey string, d plan.Domain) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[periodKey][d].Stage
}

func (f *fakeStore) SetPrimary(_ context.Context, periodKey string, d plan.Domain, isTarget1 bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetPrimary != nil {
		return f.failSetPrimary
	}
	row := f.row(periodKey, d)
	v := isTarget1
	row.Targets.PrimaryIsTarget1 = &v
	row.Stage = persistence.StageComplete
	f.rows[periodKey][d] = row
	return nil
}

func (f *fakeStore) SaveSelections(_ context.Context, periodKey string, selections map[plan.Domain][]string) error {
	f.mu.Lock()
	blocked := f.selectionsBlocked
	f.mu.Unlock()
	if blocked != nil {
		<-blocked
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSelections != nil {
		return f.failSelections
	}
	copied := make(map[plan.Domain][]string, len(selections))
	for d, sel := range selections {
		copied[d] = append([]string(nil), sel...)
		row := f.row(periodKey, d)
		row.DailyActions = append([]string(nil), sel...)
		f.rows[periodKey][d] = row
	}
	f.selectionWrites = append(f.selectionWrites, selectionWrite{period: periodKey, selections: copied})
	return nil
}

func (f *fakeStore) writes() []selectionWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]selectionWrite(nil), f.selectionWrites...)
}

// fakeMissions returns canned month maps and can block to simulate a slow
// generation call.
type fakeMissions struct {
	mu        sync.Mutex
	calls     int
	lastReq   []generation.MissionRequest
	lastTrace string
	block     chan struct{} // non-nil: ExpandMissions waits on it
	fail      map[plan.Domain]error
}

func (f *fakeMissions) ExpandMissions(ctx context.Context, key period.Key, reqs []generation.MissionRequest) (map[plan.Domain]generation.MissionResult, map[plan.Domain]error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = append([]generation.MissionRequest(nil), reqs...)
	f.lastTrace = shared.TraceID(ctx)
	block := f.block
	fail := f.fail
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	results := make(map[plan.Domain]generation.MissionResult)
	failures := make(map[plan.Domain]error)
	for _, req := range reqs {
		if err, ok := fail[req.Domain]; ok {
			failures[req.Domain] = err
			continue
		}
		res := generation.MissionResult{Missions1: cannedMonthMap(key, req.Target1)}
		if req.Target2 != "" {
			res.Missions2 = cannedMonthMap(key, req.Target2)
		}
		results[req.Domain] = res
	}
	return results, failures
}

func (f *fakeMissions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMissions) traceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTrace
}

func cannedMonthMap(key period.Key, target string) plan.MonthMap {
	out := make(plan.MonthMap, 3)
	for _, month := range key.Months() {
		out[month] = plan.MissionEntry{Mission: month + " mission for " + target, Why: "because"}
	}
	return out
}

// fakeActions returns a fixed action list per domain and records the
// resolved inputs it was given.
type fakeActions struct {
	mu        sync.Mutex
	calls     int
	lastReqs  []plan.Resolved
	lastTrace string
	actions   map[plan.Domain][]string
	block     chan struct{}
}

func (f *fakeActions) GenerateActions(ctx context.Context, _ period.Key, resolved []plan.Resolved) (map[plan.Domain][]string, map[plan.Domain]error) {
	f.mu.Lock()
	f.calls++
	f.lastReqs = append([]plan.Resolved(nil), resolved...)
	f.lastTrace = shared.TraceID(ctx)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	results := make(map[plan.Domain][]string)
	for _, r := range resolved {
		if acts, ok := f.actions[r.Domain]; ok {
			results[r.Domain] = append([]string(nil), acts...)
		} else {
			results[r.Domain] = []string{"Daily step for " + r.Target}
		}
	}
	return results, nil
}

func (f *fakeActions) traceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTrace
}

func (f *fakeActions) resolvedInputs() []plan.Resolved {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plan.Resolved(nil), f.lastReqs...)
}

func newTestSession(t interface {
	Helper()
	Fatalf(string, ...any)
}, store *fakeStore, missions *fakeMissions, actions *fakeActions, key period.Key) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Config{
		Store:         store,
		Logger:        testLogger(),
		Missions:      missions,
		Actions:       actions,
		AutosaveDelay: 30 * time.Millisecond,
	}, key)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}
