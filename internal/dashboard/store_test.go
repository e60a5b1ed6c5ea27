package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"marketpulse/internal/metrics"
)

func TestMetricStoreBoundedHistory(t *testing.T) {
	store := newMetricStore(2)

	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Name: "m", Value: i, Timestamp: time.Now()})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 retained metrics, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Errorf("expected the most recent metrics, got %v and %v", snapshot[0].Value, snapshot[1].Value)
	}
}

func TestLogStoreCapturesFields(t *testing.T) {
	store := newLogStore(10)

	entry := &logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.WarnLevel,
		Message: "something happened",
		Data: logrus.Fields{
			"component": "feed.polygon",
			"error":     errors.New("boom"),
			"count":     3,
		},
	}
	if err := store.Fire(entry); err != nil {
		t.Fatalf("fire: %v", err)
	}

	records := store.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.Component != "feed.polygon" || record.Level != "warning" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Fields["error"] != "boom" {
		t.Errorf("expected error rendered as string, got %v", record.Fields["error"])
	}
	if _, ok := record.Fields["component"]; ok {
		t.Error("component should not be duplicated into fields")
	}
}

func TestLogStoreClosedDropsEntries(t *testing.T) {
	store := newLogStore(10)
	store.close()

	if err := store.Fire(&logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "late"}); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Error("expected closed store to drop entries")
	}
}
