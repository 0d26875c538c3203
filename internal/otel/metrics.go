package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/quarterdeck/internal/bus"
)

// Metrics holds the planning-cascade instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	MissionBatches   metric.Int64Counter
	MissionFailures  metric.Int64Counter
	ActionBatches    metric.Int64Counter
	GateResolutions  metric.Int64Counter
	AutosaveWrites   metric.Int64Counter
	AutosaveFailures metric.Int64Counter
	StaleDiscards    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("quarterdeck.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MissionBatches, err = meter.Int64Counter("quarterdeck.missions.batches",
		metric.WithDescription("Mission expansion results persisted, per domain"),
	)
	if err != nil {
		return nil, err
	}

	m.MissionFailures, err = meter.Int64Counter("quarterdeck.missions.failures",
		metric.WithDescription("Per-domain mission expansion failures"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionBatches, err = meter.Int64Counter("quarterdeck.actions.batches",
		metric.WithDescription("Daily-action sets generated, per domain"),
	)
	if err != nil {
		return nil, err
	}

	m.GateResolutions, err = meter.Int64Counter("quarterdeck.gate.resolutions",
		metric.WithDescription("Primary-target decisions persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.AutosaveWrites, err = meter.Int64Counter("quarterdeck.autosave.writes",
		metric.WithDescription("Debounced selection writes that landed"),
	)
	if err != nil {
		return nil, err
	}

	m.AutosaveFailures, err = meter.Int64Counter("quarterdeck.autosave.failures",
		metric.WithDescription("Debounced selection writes that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.StaleDiscards, err = meter.Int64Counter("quarterdeck.stale.discards",
		metric.WithDescription("Mutations dropped because their period was no longer active"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Recorder bridges bus events onto the counters so the planning session
// needs no metrics dependency of its own.
type Recorder struct {
	metrics *Metrics
	sub     *bus.Subscription
	done    chan struct{}
}

// NewRecorder subscribes to the planning topics and increments counters
// until Stop is called.
func NewRecorder(b *bus.Bus, metrics *Metrics) *Recorder {
	r := &Recorder{
		metrics: metrics,
		sub:     b.Subscribe("plan."),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	ctx := context.Background()
	for ev := range r.sub.Ch() {
		switch ev.Topic {
		case bus.TopicMissionsReady:
			r.metrics.MissionBatches.Add(ctx, 1)
		case bus.TopicMissionsFailed:
			r.metrics.MissionFailures.Add(ctx, 1)
		case bus.TopicActionsGenerated:
			r.metrics.ActionBatches.Add(ctx, 1)
		case bus.TopicGateResolved:
			r.metrics.GateResolutions.Add(ctx, 1)
		case bus.TopicAutosaveWritten:
			r.metrics.AutosaveWrites.Add(ctx, 1)
		case bus.TopicAutosaveFailed:
			r.metrics.AutosaveFailures.Add(ctx, 1)
		case bus.TopicStaleDiscard:
			r.metrics.StaleDiscards.Add(ctx, 1)
		}
	}
}

// Stop unsubscribes and waits for the recorder goroutine to drain.
func (r *Recorder) Stop(b *bus.Bus) {
	b.Unsubscribe(r.sub)
	<-r.done
}
