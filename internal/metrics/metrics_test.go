package metrics

import (
	"testing"
)

func TestEmitDispatchesToHandler(t *testing.T) {
	var received []Metric
	id := RegisterMetricHandler(func(m Metric) {
		received = append(received, m)
	})
	defer UnregisterMetricHandler(id)

	metric, ok := Emit(nil, "feed", "EventsDelivered", 7, "counter", nil)
	if !ok {
		t.Fatal("expected metric to be accepted")
	}
	if metric.Component != "feed" || metric.Name != "EventsDelivered" {
		t.Errorf("unexpected metric identity: %+v", metric)
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 dispatched metric, got %d", len(received))
	}
	if received[0].Value != 7 {
		t.Errorf("expected value 7, got %v", received[0].Value)
	}
	if received[0].Type != "counter" {
		t.Errorf("expected type counter, got %q", received[0].Type)
	}
}

func TestEmitRejectsEmptyName(t *testing.T) {
	if _, ok := Emit(nil, "feed", "", 1, "counter", nil); ok {
		t.Error("expected metric with empty name to be rejected")
	}
}

func TestRegisterNilHandler(t *testing.T) {
	if id := RegisterMetricHandler(nil); id != 0 {
		t.Errorf("expected zero id for nil handler, got %d", id)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	count := 0
	id := RegisterMetricHandler(func(Metric) { count++ })

	Emit(nil, "archiver", "BatchesWritten", 1, "counter", nil)
	UnregisterMetricHandler(id)
	Emit(nil, "archiver", "BatchesWritten", 1, "counter", nil)

	if count != 1 {
		t.Errorf("expected exactly 1 delivery, got %d", count)
	}
}

func TestEmitClonesFields(t *testing.T) {
	fields := map[string]interface{}{"feed": "polygon"}
	metric, _ := Emit(nil, "feed", "EventsDelivered", 1, "", fields)

	fields["feed"] = "mutated"
	if metric.Fields["feed"] != "polygon" {
		t.Errorf("expected metric fields to be isolated from caller, got %v", metric.Fields["feed"])
	}
}
