package planning

import (
	"context"
	"fmt"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/persistence"
	"github.com/basket/quarterdeck/internal/plan"
)

// GateState derives the primary-target gate for a domain from the current
// in-memory record. A one-target domain reads NotApplicable with no
// persistence call.
func (s *Session) GateState(d plan.Domain) plan.GateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plan.Gate(s.targets[d])
}

// SelectPrimary resolves an undecided gate to target-1 or target-2. The
// decision persists immediately (not debounced); on a failed write the
// in-memory state is left untouched so the UI and storage never diverge.
func (s *Session) SelectPrimary(ctx context.Context, d plan.Domain, isTarget1 bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.targets[d].TwoTargets() {
		s.mu.Unlock()
		return fmt.Errorf("select primary for %s: %w", d, ErrGateNotApplicable)
	}
	key := s.key
	s.mu.Unlock()

	if err := s.store.SetPrimary(ctx, key.String(), d, isTarget1); err != nil {
		return fmt.Errorf("persist primary choice for %s: %w", d, err)
	}

	s.mu.Lock()
	if s.key != key {
		s.discardStale(key, "primary")
		s.mu.Unlock()
		return nil
	}
	rec := s.targets[d]
	v := isTarget1
	rec.PrimaryIsTarget1 = &v
	s.targets[d] = rec
	s.stages[d] = persistence.StageComplete
	s.mu.Unlock()

	s.logger.Info("primary target resolved", "domain", string(d), "period", key.String(), "is_target1", isTarget1)
	s.publish(bus.TopicGateResolved, bus.GateResolvedEvent{
		Period:           key.String(),
		Domain:           string(d),
		PrimaryIsTarget1: isTarget1,
	})
	return nil
}
