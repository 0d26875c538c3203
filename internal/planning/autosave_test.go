package planning

import (
	"errors"
	"testing"
	"time"

	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/plan"
)

const testDelay = 30 * time.Millisecond

// settle waits long enough for any scheduled debounce timer to have fired.
func settle() { time.Sleep(4 * testDelay) }

func TestCoordinatorDebouncesToSingleWrite(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), testDelay)
	defer c.Close()
	key := period.Key("2025-Q3")

	// Three rapid edits inside one debounce window.
	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a"}})
	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a", "b"}})
	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a", "b", "c"}})
	settle()

	writes := store.writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want exactly 1", len(writes))
	}
	got := writes[0].selections[plan.Body]
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("write carries %v, want the state after the last edit", got)
	}
	if writes[0].period != "2025-Q3" {
		t.Fatalf("write targeted period %q", writes[0].period)
	}
}

func TestCoordinatorSeparateCyclesWriteSeparately(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), testDelay)
	defer c.Close()
	key := period.Key("2025-Q3")

	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a"}})
	settle()
	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"b"}})
	settle()

	writes := store.writes()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if writes[1].selections[plan.Body][0] != "b" {
		t.Fatalf("second write carries %v", writes[1].selections[plan.Body])
	}
}

func TestCoordinatorCancelPendingDropsWrite(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), testDelay)
	defer c.Close()

	c.Schedule(period.Key("2025-Q3"), map[plan.Domain][]string{plan.Body: {"a"}})
	c.CancelPending()
	settle()

	if n := len(store.writes()); n != 0 {
		t.Fatalf("got %d writes after cancel, want 0", n)
	}
}

func TestCoordinatorCloseAbandonsPending(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), testDelay)

	c.Schedule(period.Key("2025-Q3"), map[plan.Domain][]string{plan.Body: {"a"}})
	c.Close()
	settle()

	if n := len(store.writes()); n != 0 {
		t.Fatalf("got %d writes after close, want 0: teardown never initiates a write", n)
	}

	// Schedules after close are ignored too.
	c.Schedule(period.Key("2025-Q3"), map[plan.Domain][]string{plan.Body: {"b"}})
	settle()
	if n := len(store.writes()); n != 0 {
		t.Fatalf("schedule after close produced %d writes", n)
	}
}

func TestCoordinatorFailedWriteRetriedNextCycleOnly(t *testing.T) {
	store := newFakeStore()
	store.failSelections = errors.New("disk full")
	c := NewCoordinator(store, nil, testLogger(), testDelay)
	defer c.Close()
	key := period.Key("2025-Q3")

	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a"}})
	settle()

	// The failure is swallowed; nothing landed and no immediate retry ran.
	if n := len(store.writes()); n != 0 {
		t.Fatalf("failed write recorded %d successes", n)
	}

	store.mu.Lock()
	store.failSelections = nil
	store.mu.Unlock()
	settle()
	if n := len(store.writes()); n != 0 {
		t.Fatalf("write retried without a new edit: got %d writes", n)
	}

	// The next edit carries the state forward.
	c.Schedule(key, map[plan.Domain][]string{plan.Body: {"a", "b"}})
	settle()
	writes := store.writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes after recovery, want 1", len(writes))
	}
	if got := writes[0].selections[plan.Body]; len(got) != 2 {
		t.Fatalf("recovery write carries %v", got)
	}
}

func TestCoordinatorSetDelayAppliesToNextSchedule(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), time.Hour)
	defer c.Close()

	c.SetDelay(testDelay)
	c.Schedule(period.Key("2025-Q3"), map[plan.Domain][]string{plan.Body: {"a"}})
	settle()

	if n := len(store.writes()); n != 1 {
		t.Fatalf("got %d writes, want 1 under the reloaded delay", n)
	}
}

func TestCoordinatorLaterScheduleSupersedesEarlierTimer(t *testing.T) {
	store := newFakeStore()
	c := NewCoordinator(store, nil, testLogger(), testDelay)
	defer c.Close()
	key := period.Key("2025-Q3")

	// Keep rescheduling faster than the delay; the write must not happen
	// until edits stop.
	for i := 0; i < 5; i++ {
		c.Schedule(key, map[plan.Domain][]string{plan.Being: {"edit"}})
		time.Sleep(testDelay / 3)
		if n := len(store.writes()); n != 0 {
			t.Fatalf("write fired mid-burst after %d edits", i+1)
		}
	}
	settle()
	if n := len(store.writes()); n != 1 {
		t.Fatalf("got %d writes after burst, want 1", n)
	}
}
