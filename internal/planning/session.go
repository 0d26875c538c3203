// Package planning owns the cascade state machine: a period-scoped session
// holding targets, missions and daily actions, the primary-target gate,
// and the debounced autosave of selection edits. All mutations funnel
// through the session so the stale-period-discard rule is enforced in one
// place.
package planning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/generation"
	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
)

// PlanStore is the durable record store the session reads and writes.
// *persistence.Store satisfies it.
type PlanStore interface {
	LoadPlan(ctx context.Context, periodKey string) (map[plan.Domain]persistence.PlanRow, error)
	SaveTargets(ctx context.Context, periodKey string, d plan.Domain, t plan.Targets) error
	SaveMissions(ctx context.Context, periodKey string, d plan.Domain, missions1, missions2 plan.MonthMap, stage string) error
	SetPrimary(ctx context.Context, periodKey string, d plan.Domain, isTarget1 bool) error
	SaveSelections(ctx context.Context, periodKey string, selections map[plan.Domain][]string) error
}

// Config holds the dependencies for a Session.
type Config struct {
	Store    PlanStore
	Bus      *bus.Bus
	Logger   *slog.Logger
	Missions generation.MissionGenerator
	Actions  generation.ActionGenerator

	// AutosaveDelay is the selection-write debounce window.
	// Defaults to 2 seconds if zero.
	AutosaveDelay time.Duration
}

// Session is the process-wide mutable planning state for one period. It is
// replaced wholesale, never merged, when the period changes. The durable
// store is the only entity that outlives it.
type Session struct {
	mu sync.Mutex

	store  PlanStore
	bus    *bus.Bus
	logger *slog.Logger

	missions generation.MissionGenerator
	actions  generation.ActionGenerator
	autosave *Coordinator

	key        period.Key
	targets    map[plan.Domain]plan.Targets
	actionSets map[plan.Domain][]string // generated superset, never persisted
	selections map[plan.Domain][]string // user subset, autosaved
	stages     map[plan.Domain]string

	expanding      bool
	generating     bool
	autoExpandDone bool
	closed         bool
}

// NewSession creates a session for the given period and loads its stored
// artifacts. Stored non-empty daily-action arrays are loaded verbatim as
// both the generated set and the initial selection; generation is not
// auto-invoked for them.
func NewSession(ctx context.Context, cfg Config, key period.Key) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.AutosaveDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	s := &Session{
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		missions: cfg.Missions,
		actions:  cfg.Actions,
		autosave: NewCoordinator(cfg.Store, cfg.Bus, logger, delay),
	}
	s.resetLocked(key)
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// resetLocked replaces all period-scoped state. Callers hold no lock at
// construction; SetPeriod holds s.mu.
func (s *Session) resetLocked(key period.Key) {
	s.key = key
	s.targets = make(map[plan.Domain]plan.Targets)
	s.actionSets = make(map[plan.Domain][]string)
	s.selections = make(map[plan.Domain][]string)
	s.stages = make(map[plan.Domain]string)
	s.expanding = false
	s.generating = false
	s.autoExpandDone = false
}

// load reads the durable record for the active period into memory.
func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	rows, err := s.store.LoadPlan(ctx, key.String())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		// Period switched while the read was outstanding; drop it.
		s.discardStale(key, "load")
		return nil
	}
	for d, row := range rows {
		s.targets[d] = row.Targets.Clone()
		s.stages[d] = row.Stage
		if len(row.DailyActions) > 0 {
			s.actionSets[d] = append([]string(nil), row.DailyActions...)
			s.selections[d] = append([]string(nil), row.DailyActions...)
		}
	}
	return nil
}

// Period returns the active period key.
func (s *Session) Period() period.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// SetPeriod atomically replaces the active period and clears all cascade
// artifacts, then loads stored data for the new key. A pending autosave
// debounce for the outgoing period is cancelled; a selection write already
// dispatched completes in the background against its own period key.
func (s *Session) SetPeriod(ctx context.Context, key period.Key) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.key == key {
		s.mu.Unlock()
		return nil
	}
	old := s.key
	s.autosave.CancelPending()
	s.resetLocked(key)
	s.mu.Unlock()

	s.logger.Info("period changed", "old_period", old.String(), "new_period", key.String())
	s.publish(bus.TopicPeriodChanged, bus.PeriodChangedEvent{OldPeriod: old.String(), NewPeriod: key.String()})
	return s.load(ctx)
}

// UpdateTargets saves a domain's target and narrative fields. This is an
// explicit user action: persistence errors are surfaced and the in-memory
// record is not updated on failure. Editing targets never clears
// downstream missions or actions; regeneration is explicit.
func (s *Session) UpdateTargets(ctx context.Context, d plan.Domain, t plan.Targets) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	key := s.key
	s.mu.Unlock()

	// Only target fields are written; gate and missions are untouched.
	if err := s.store.SaveTargets(ctx, key.String(), d, t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != key {
		s.discardStale(key, "targets")
		return nil
	}
	rec := s.targets[d]
	rec.Target1, rec.Narrative1 = t.Target1, t.Narrative1
	rec.Target2, rec.Narrative2 = t.Target2, t.Narrative2
	s.targets[d] = rec
	return nil
}

// SetSelection records the user's daily-action subset for a domain in
// memory immediately and schedules a debounced durable write of the entire
// selection map.
func (s *Session) SetSelection(d plan.Domain, subset []string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.selections[d] = append([]string(nil), subset...)
	key := s.key
	snapshot := s.selectionSnapshotLocked()
	s.mu.Unlock()

	s.autosave.Schedule(key, snapshot)
}

// HasAnyTarget reports whether at least one domain has a populated target.
func (s *Session) HasAnyTarget() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plan.HasAnyTarget(s.targets)
}

// CanProceed is the global progression predicate: missions exist and no
// domain sits at an undecided gate.
func (s *Session) CanProceed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plan.CanProceed(s.targets)
}

// Expanding reports whether a mission expansion batch is outstanding.
func (s *Session) Expanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanding
}

// Generating reports whether daily-action generation is outstanding.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// Snapshot is a copy of the session state for display surfaces.
type Snapshot struct {
	Period     period.Key
	Targets    map[plan.Domain]plan.Targets
	ActionSets map[plan.Domain][]string
	Selections map[plan.Domain][]string
	Stages     map[plan.Domain]string
	Expanding  bool
	Generating bool
	CanProceed bool
}

// Snapshot returns deep copies; callers may not mutate session state
// through it.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Period:     s.key,
		Targets:    make(map[plan.Domain]plan.Targets, len(s.targets)),
		ActionSets: make(map[plan.Domain][]string, len(s.actionSets)),
		Selections: s.selectionSnapshotLocked(),
		Stages:     make(map[plan.Domain]string, len(s.stages)),
		Expanding:  s.expanding,
		Generating: s.generating,
		CanProceed: plan.CanProceed(s.targets),
	}
	for d, t := range s.targets {
		snap.Targets[d] = t.Clone()
	}
	for d, a := range s.actionSets {
		snap.ActionSets[d] = append([]string(nil), a...)
	}
	for d, st := range s.stages {
		snap.Stages[d] = st
	}
	return snap
}

// SetAutosaveDelay applies a reloaded debounce window to future autosave
// cycles.
func (s *Session) SetAutosaveDelay(d time.Duration) {
	s.autosave.SetDelay(d)
}

// Close tears the session down: the pending autosave timer is cancelled
// and no new write is initiated. A write already in flight is abandoned to
// its own fate.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.autosave.Close()
}

func (s *Session) selectionSnapshotLocked() map[plan.Domain][]string {
	out := make(map[plan.Domain][]string, len(s.selections))
	for d, sel := range s.selections {
		out[d] = append([]string(nil), sel...)
	}
	return out
}

// discardStale drops a mutation computed for a period that is no longer
// active. Callers hold s.mu.
func (s *Session) discardStale(stale period.Key, mutation string) {
	s.logger.Debug("discarding stale mutation",
		"mutation", mutation,
		"stale_period", stale.String(),
		"active_period", s.key.String(),
	)
	s.publish(bus.TopicStaleDiscard, bus.StaleDiscardEvent{
		ActivePeriod: s.key.String(),
		StalePeriod:  stale.String(),
		Mutation:     mutation,
	})
}

func (s *Session) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}
