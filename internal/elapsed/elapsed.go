// Package elapsed tracks per-task start instants and formats the time
// passed since them.
package elapsed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnanchoredTask is returned in strict mode for a task that never started.
var ErrUnanchoredTask = errors.New("task has no elapsed-time anchor")

// Policy decides what Elapsed does for a task without an anchor.
type Policy int

const (
	// PolicyLegacy measures from the instant the tracker was created.
	PolicyLegacy Policy = iota
	// PolicyStrict fails with ErrUnanchoredTask.
	PolicyStrict
)

// ParsePolicy accepts "legacy" and "strict".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return PolicyLegacy, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyLegacy, fmt.Errorf("invalid timer policy %q, must be: legacy or strict", s)
}

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "legacy"
}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Tracker holds one anchor per task. It is not safe for concurrent use.
type Tracker struct {
	clock   Clock
	policy  Policy
	origin  time.Time
	anchors map[string]time.Time
}

// NewTracker creates a tracker. A nil clock means SystemClock.
func NewTracker(clock Clock, policy Policy) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Tracker{
		clock:   clock,
		policy:  policy,
		origin:  clock.Now(),
		anchors: make(map[string]time.Time),
	}
}

// Anchor records now as the start of task, replacing any earlier anchor.
func (t *Tracker) Anchor(task string) {
	t.anchors[task] = t.clock.Now()
}

// Since returns the raw duration since the task's anchor.
func (t *Tracker) Since(task string) (time.Duration, error) {
	start, ok := t.anchors[task]
	if !ok {
		if t.policy == PolicyStrict {
			return 0, fmt.Errorf("%w: %s", ErrUnanchoredTask, task)
		}
		start = t.origin
	}
	d := t.clock.Now().Sub(start)
	if d < 0 {
		d = 0
	}
	return d, nil
}

// Elapsed returns the formatted duration since the task's anchor.
func (t *Tracker) Elapsed(task string) (string, error) {
	d, err := t.Since(task)
	if err != nil {
		return "", err
	}
	return Format(d), nil
}

// Format renders d with two decimals below ten seconds and as whole
// seconds from there on.
func Format(d time.Duration) string {
	secs := d.Seconds()
	if secs < 10 {
		return strconv.FormatFloat(secs, 'f', 2, 64) + "s"
	}
	return strconv.FormatInt(int64(math.Round(secs)), 10) + "s"
}

// ParseSeconds reads back a value produced by Format.
func ParseSeconds(s string) (float64, error) {
	v := strings.TrimSuffix(strings.TrimSpace(s), "s")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse elapsed %q: %w", s, err)
	}
	return f, nil
}

// Stopwatch is a single anchor started at creation, used by the server to
// stamp the frames of one run.
type Stopwatch struct {
	clock Clock
	start time.Time
}

// NewStopwatch starts a stopwatch. A nil clock means SystemClock.
func NewStopwatch(clock Clock) *Stopwatch {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Stopwatch{clock: clock, start: clock.Now()}
}

// Elapsed returns the formatted time since the stopwatch started.
func (s *Stopwatch) Elapsed() string {
	return Format(s.clock.Now().Sub(s.start))
}
