package otel

import (
	"context"
	"testing"
	"time"

	"github.com/basket/quarterdeck/internal/bus"
)

func TestInitDisabledReturnsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("noop provider missing tracer or meter")
	}

	// Spans and shutdown must work without any exporter wired up.
	_, span := p.Tracer.Start(context.Background(), "test")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatal("want error for unknown exporter")
	}
}

func TestNewMetricsWithNoopMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.AutosaveWrites == nil || m.StaleDiscards == nil {
		t.Fatal("instruments not created")
	}
	m.AutosaveWrites.Add(context.Background(), 1)
}

func TestRecorderConsumesPlanningEvents(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	b := bus.New()
	r := NewRecorder(b, m)

	b.Publish(bus.TopicMissionsReady, bus.MissionsReadyEvent{Period: "2025-Q3", Domain: "body"})
	b.Publish(bus.TopicAutosaveWritten, bus.AutosaveWrittenEvent{Period: "2025-Q3", Domains: 2})

	done := make(chan struct{})
	go func() {
		r.Stop(b)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}
