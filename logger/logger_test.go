package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("feed.polygon").Info("connected")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["component"] != "feed.polygon" {
		t.Errorf("expected component 'feed.polygon', got %v", entry["component"])
	}
	if entry["message"] != "connected" {
		t.Errorf("expected message 'connected', got %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("expected level 'info', got %v", entry["level"])
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	log := Logger()
	if err := log.Configure("verbose", "json", "stdout", 0); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Error("expected error for invalid log format")
	}
}

func TestConfigureTextFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("debug", "text", "stderr", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("collector").Debug("fetch complete")

	if !strings.Contains(buf.String(), "fetch complete") {
		t.Errorf("expected output to contain message, got %q", buf.String())
	}
}

func TestLogMetricWithoutCloudWatch(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.LogMetric("feed", "EventsDelivered", 42, "counter", Fields{"feed": "polygon"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["metric"] != "EventsDelivered" {
		t.Errorf("expected metric 'EventsDelivered', got %v", entry["metric"])
	}
	if entry["value"] != float64(42) {
		t.Errorf("expected value 42, got %v", entry["value"])
	}
}

func TestWarnIncrementsComponentCounter(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	before := feedWarnCount
	log.WithComponent("feed.coinbase").Warn("slow consumer")
	if feedWarnCount != before+1 {
		t.Errorf("expected feed warn counter to increment, got %d -> %d", before, feedWarnCount)
	}
}
