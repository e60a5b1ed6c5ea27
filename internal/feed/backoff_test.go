package feed

import (
	"testing"
	"time"
)

func TestPolicyDelaysDouble(t *testing.T) {
	p := NewPolicy(time.Second, 0, 5)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, want := range expected {
		got, ok := p.Next()
		if !ok {
			t.Fatalf("attempt %d: expected a delay, policy refused", i+1)
		}
		if got != want {
			t.Errorf("attempt %d: expected delay %v, got %v", i+1, want, got)
		}
	}

	if _, ok := p.Next(); ok {
		t.Error("expected policy to refuse after the attempt ceiling")
	}
}

func TestPolicyResetAfterSuccess(t *testing.T) {
	p := NewPolicy(time.Second, 0, 5)

	if d, _ := p.Next(); d != time.Second {
		t.Fatalf("expected first delay 1s, got %v", d)
	}

	// A successful open resets the counter, so the next failure starts
	// over at the base delay instead of continuing the progression.
	p.Reset()

	if d, _ := p.Next(); d != time.Second {
		t.Errorf("expected delay after reset to be 1s, got %v", d)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := NewPolicy(0, 0, 0)

	if d, ok := p.Next(); !ok || d != time.Second {
		t.Errorf("expected default base delay 1s, got %v (ok=%v)", d, ok)
	}

	for i := 0; i < 4; i++ {
		if _, ok := p.Next(); !ok {
			t.Fatalf("expected default ceiling of 5 attempts, refused at %d", i+2)
		}
	}
	if _, ok := p.Next(); ok {
		t.Error("expected refusal on attempt 6 with default ceiling")
	}
}

func TestPolicyMaxDelayCap(t *testing.T) {
	p := NewPolicy(time.Second, 3*time.Second, 5)

	var delays []time.Duration
	for {
		d, ok := p.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}

	if len(delays) != 5 {
		t.Fatalf("expected 5 delays, got %d", len(delays))
	}
	for i, d := range delays {
		if d > 3*time.Second {
			t.Errorf("delay %d exceeds cap: %v", i+1, d)
		}
	}
}

func TestPolicyAttempts(t *testing.T) {
	p := NewPolicy(time.Second, 0, 5)
	if p.Attempts() != 0 {
		t.Errorf("expected 0 attempts initially, got %d", p.Attempts())
	}
	p.Next()
	p.Next()
	if p.Attempts() != 2 {
		t.Errorf("expected 2 attempts, got %d", p.Attempts())
	}
	p.Reset()
	if p.Attempts() != 0 {
		t.Errorf("expected 0 attempts after reset, got %d", p.Attempts())
	}
}
