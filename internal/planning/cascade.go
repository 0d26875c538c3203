package planning

import (
	"context"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/generation"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
	"github.com/basket/quarterdeck/internal/shared"
)

// ExpandMissions runs mission expansion for every domain with at least one
// populated target. Failures are reported per domain; missions already
// stored for other domains are never rolled back. The stage itself does
// not deduplicate domains that already have missions — callers retrying a
// partial batch decide what to resubmit.
func (s *Session) ExpandMissions(ctx context.Context) (map[plan.Domain]error, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.expanding {
		s.mu.Unlock()
		return nil, ErrExpansionInFlight
	}
	if !plan.HasAnyTarget(s.targets) {
		s.mu.Unlock()
		return nil, ErrNoTargets
	}

	key := s.key
	var reqs []generation.MissionRequest
	firstExpansion := make(map[plan.Domain]bool)
	twoTargets := make(map[plan.Domain]bool)
	for d, t := range s.targets {
		if t.IsEmpty() {
			// Domains with no target are omitted entirely, not sent empty.
			continue
		}
		reqs = append(reqs, generation.MissionRequest{
			Domain:     d,
			Target1:    t.Target1,
			Target2:    t.Target2,
			Narrative1: t.Narrative1,
			Narrative2: t.Narrative2,
		})
		// Captured with the request: after a period switch the session's
		// targets describe a different period.
		firstExpansion[d] = !t.HasMissions()
		twoTargets[d] = t.TwoTargets()
	}
	s.expanding = true
	s.mu.Unlock()

	batchCtx := shared.WithTraceID(ctx, shared.NewTraceID())
	results, failures := s.missions.ExpandMissions(batchCtx, key, reqs)
	if failures == nil {
		failures = make(map[plan.Domain]error)
	}

	s.mu.Lock()
	s.expanding = false
	stale := s.key != key
	if stale {
		s.discardStale(key, "missions")
	}
	s.mu.Unlock()

	for d, res := range results {
		// The stage indicator transitions only on the domain's first
		// expansion for the period. A re-expansion writes missions with an
		// empty stage so a gate already resolved to complete is not
		// downgraded in storage.
		var stage string
		if firstExpansion[d] {
			stage = persistence.StageComplete
			if twoTargets[d] {
				stage = persistence.StagePrimaryPending
			}
		}
		if err := s.store.SaveMissions(ctx, key.String(), d, res.Missions1, res.Missions2, stage); err != nil {
			failures[d] = err
			continue
		}

		if !stale {
			s.mu.Lock()
			if s.key == key {
				rec := s.targets[d]
				rec.Missions1 = res.Missions1
				rec.Missions2 = res.Missions2
				s.targets[d] = rec
				if stage != "" {
					s.stages[d] = stage
				}
			}
			s.mu.Unlock()
		}
		s.publish(bus.TopicMissionsReady, bus.MissionsReadyEvent{
			Period:     key.String(),
			Domain:     string(d),
			TwoTargets: twoTargets[d],
		})
	}

	for d, err := range failures {
		s.logger.Warn("mission expansion failed",
			"domain", string(d),
			"period", key.String(),
			"trace_id", shared.TraceID(batchCtx),
			"error", err,
		)
		s.publish(bus.TopicMissionsFailed, bus.MissionsFailedEvent{
			Period: key.String(),
			Domain: string(d),
			Err:    err.Error(),
		})
	}
	if len(failures) == 0 {
		failures = nil
	}
	return failures, nil
}

// AutoExpand invokes mission expansion when the session is entered with
// targets present but no missions recorded for any domain. It fires at
// most once per session, even if the result is empty, so a degenerate
// generation response can never cause a regeneration loop.
func (s *Session) AutoExpand(ctx context.Context) (map[plan.Domain]error, error) {
	s.mu.Lock()
	if s.closed || s.autoExpandDone {
		s.mu.Unlock()
		return nil, nil
	}
	missionsExist := false
	for _, t := range s.targets {
		if t.HasMissions() {
			missionsExist = true
			break
		}
	}
	if missionsExist || !plan.HasAnyTarget(s.targets) {
		s.mu.Unlock()
		return nil, nil
	}
	// The one-shot flag is set before invoking, never reset on an empty
	// result.
	s.autoExpandDone = true
	s.mu.Unlock()

	return s.ExpandMissions(ctx)
}

// GenerateDailyActions expands the resolved primary mission of each
// resolvable domain into a fresh daily-action candidate set. Regeneration
// fully replaces the prior set; selection entries whose text no longer
// appears are dropped silently. A domain that never had a selection
// defaults to all generated actions selected.
func (s *Session) GenerateDailyActions(ctx context.Context) (map[plan.Domain]error, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.generating {
		s.mu.Unlock()
		return nil, ErrGenerationInFlight
	}

	key := s.key
	var resolved []plan.Resolved
	for d, t := range s.targets {
		r := plan.ResolvePrimary(d, t)
		if r.Target == "" {
			continue
		}
		resolved = append(resolved, r)
	}
	if len(resolved) == 0 {
		s.mu.Unlock()
		return nil, ErrNoTargets
	}
	s.generating = true
	s.mu.Unlock()

	batchCtx := shared.WithTraceID(ctx, shared.NewTraceID())
	results, failures := s.actions.GenerateActions(batchCtx, key, resolved)

	s.mu.Lock()
	s.generating = false
	if s.key != key {
		s.discardStale(key, "actions")
		s.mu.Unlock()
		if len(failures) == 0 {
			failures = nil
		}
		return failures, nil
	}

	selectionChanged := false
	for d, actions := range results {
		_, hadSelection := s.selections[d]
		s.actionSets[d] = append([]string(nil), actions...)
		if hadSelection {
			s.selections[d] = intersect(s.selections[d], actions)
		} else {
			s.selections[d] = append([]string(nil), actions...)
		}
		selectionChanged = true
	}
	snapshot := s.selectionSnapshotLocked()
	s.mu.Unlock()

	for d, actions := range results {
		s.publish(bus.TopicActionsGenerated, bus.ActionsGeneratedEvent{
			Period: key.String(),
			Domain: string(d),
			Count:  len(actions),
		})
	}
	for d, err := range failures {
		s.logger.Warn("daily-action generation failed",
			"domain", string(d),
			"period", key.String(),
			"trace_id", shared.TraceID(batchCtx),
			"error", err,
		)
	}

	if selectionChanged {
		s.autosave.Schedule(key, snapshot)
	}
	if len(failures) == 0 {
		failures = nil
	}
	return failures, nil
}

// intersect keeps prior selections that still exist in the regenerated
// set, preserving the prior selection order.
func intersect(prior, current []string) []string {
	present := make(map[string]struct{}, len(current))
	for _, a := range current {
		present[a] = struct{}{}
	}
	var out []string
	for _, sel := range prior {
		if _, ok := present[sel]; ok {
			out = append(out, sel)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
