package elapsed

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0.00s"},
		{1234 * time.Millisecond, "1.23s"},
		{9990 * time.Millisecond, "9.99s"},
		{10 * time.Second, "10s"},
		{12500 * time.Millisecond, "13s"},
		{125 * time.Second, "125s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Format(tt.d); got != tt.want {
				t.Errorf("Format(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestParseSeconds_RoundTrip(t *testing.T) {
	for _, d := range []time.Duration{0, 3 * time.Second, 42 * time.Second} {
		got, err := ParseSeconds(Format(d))
		if err != nil {
			t.Fatalf("ParseSeconds failed: %v", err)
		}
		if got != d.Seconds() {
			t.Errorf("Expected %v, got %v", d.Seconds(), got)
		}
	}

	if _, err := ParseSeconds("soon"); err == nil {
		t.Error("Expected error for non-numeric input")
	}
}

func TestTracker_AnchorIsPerTask(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock, PolicyStrict)

	tr.Anchor("function")
	clock.Advance(2 * time.Second)
	tr.Anchor("script")
	clock.Advance(1 * time.Second)

	got, err := tr.Elapsed("function")
	if err != nil {
		t.Fatalf("Elapsed failed: %v", err)
	}
	if got != "3.00s" {
		t.Errorf("Expected function elapsed 3.00s, got %s", got)
	}

	got, err = tr.Elapsed("script")
	if err != nil {
		t.Fatalf("Elapsed failed: %v", err)
	}
	if got != "1.00s" {
		t.Errorf("Expected script elapsed 1.00s, got %s", got)
	}
}

func TestTracker_ReanchorOverwrites(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock, PolicyStrict)

	tr.Anchor("function")
	clock.Advance(20 * time.Second)
	tr.Anchor("function")
	clock.Advance(500 * time.Millisecond)

	got, _ := tr.Elapsed("function")
	if got != "0.50s" {
		t.Errorf("Expected 0.50s after re-anchor, got %s", got)
	}
}

func TestTracker_StrictUnanchored(t *testing.T) {
	tr := NewTracker(newFakeClock(), PolicyStrict)

	_, err := tr.Elapsed("function")
	if !errors.Is(err, ErrUnanchoredTask) {
		t.Errorf("Expected ErrUnanchoredTask, got %v", err)
	}
}

func TestTracker_LegacyUsesOrigin(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock, PolicyLegacy)
	clock.Advance(4 * time.Second)

	got, err := tr.Elapsed("function")
	if err != nil {
		t.Fatalf("Elapsed failed: %v", err)
	}
	if got != "4.00s" {
		t.Errorf("Expected 4.00s from origin, got %s", got)
	}
}

func TestTracker_Monotonic(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(clock, PolicyStrict)
	tr.Anchor("function")

	prev := -1.0
	for i := 0; i < 30; i++ {
		clock.Advance(700 * time.Millisecond)
		s, err := tr.Elapsed("function")
		if err != nil {
			t.Fatalf("Elapsed failed: %v", err)
		}
		v, err := ParseSeconds(s)
		if err != nil {
			t.Fatalf("ParseSeconds failed: %v", err)
		}
		if v < prev {
			t.Fatalf("Elapsed went backwards: %v after %v", v, prev)
		}
		prev = v
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("strict"); err != nil || p != PolicyStrict {
		t.Errorf("Expected strict, got %v (%v)", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyLegacy {
		t.Errorf("Expected legacy default, got %v (%v)", p, err)
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Error("Expected error for invalid policy")
	}
}
