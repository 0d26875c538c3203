package planning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/quarterdeck/internal/bus"
	"github.com/basket/quarterdeck/internal/period"
	"github.com/basket/quarterdeck/internal/plan"
)

// SelectionWriter is the slice of the store the coordinator needs.
type SelectionWriter interface {
	SaveSelections(ctx context.Context, periodKey string, selections map[plan.Domain][]string) error
}

const writeTimeout = 5 * time.Second

// Coordinator debounces selection edits into a single durable write of the
// entire selection map. Each new change cancels and restarts the pending
// timer; only the state at the moment the timer fires is written.
//
// Teardown policy: Close cancels a pending timer and never initiates a new
// write. A write already dispatched completes in the background against
// its own period key. A failed write is retried only on the next debounce
// cycle, never immediately.
type Coordinator struct {
	mu sync.Mutex

	store  SelectionWriter
	bus    *bus.Bus
	logger *slog.Logger
	delay  time.Duration

	timer      *time.Timer
	gen        uint64
	pending    map[plan.Domain][]string
	pendingKey period.Key
	closed     bool
}

// NewCoordinator creates a Coordinator with the given debounce delay.
func NewCoordinator(store SelectionWriter, b *bus.Bus, logger *slog.Logger, delay time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  store,
		bus:    b,
		logger: logger,
		delay:  delay,
	}
}

// Schedule records the full current selection map for the given period and
// (re)starts the debounce timer. The map must be a snapshot the caller
// will not mutate.
func (c *Coordinator) Schedule(key period.Key, selections map[plan.Domain][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.pending = selections
	c.pendingKey = key
	c.gen++
	gen := c.gen

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, func() { c.fire(gen) })
}

// SetDelay adjusts the debounce window for subsequent schedules. A timer
// already armed keeps its original delay.
func (c *Coordinator) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// CancelPending drops the pending write and stops the timer. Used when the
// active period changes: in-memory state for the outgoing period is
// discarded regardless of any write already in flight.
func (c *Coordinator) CancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked()
}

// Close cancels any pending write and rejects future schedules. No new
// write is initiated once teardown has begun.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropPendingLocked()
}

func (c *Coordinator) dropPendingLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

// fire performs the debounced write. A stale generation means the timer
// was superseded between firing and acquiring the lock.
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.pending == nil {
		c.mu.Unlock()
		return
	}
	selections := c.pending
	key := c.pendingKey
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := c.store.SaveSelections(ctx, key.String(), selections); err != nil {
		// Logged only; the next debounce cycle carries the state forward.
		c.logger.Error("autosave write failed", "period", key.String(), "error", err)
		if c.bus != nil {
			c.bus.Publish(bus.TopicAutosaveFailed, bus.AutosaveFailedEvent{
				Period: key.String(),
				Err:    err.Error(),
			})
		}
		return
	}

	// Autosave success is silent: no user-visible notification.
	c.logger.Debug("autosave written", "period", key.String(), "domains", len(selections))
	if c.bus != nil {
		c.bus.Publish(bus.TopicAutosaveWritten, bus.AutosaveWrittenEvent{
			Period:  key.String(),
			Domains: len(selections),
		})
	}
}
