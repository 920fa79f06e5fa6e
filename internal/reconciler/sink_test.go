package reconciler

import (
	"bytes"
	"strings"
	"testing"
)

func TestMemorySinkPanes(t *testing.T) {
	m := NewMemorySink()
	m.Apply(Update{Task: "a", Op: OpAppendLine, Text: "one"})
	m.Apply(Update{Task: "a", Op: OpAppendLine, Text: "two", Style: StyleError})
	m.Apply(Update{Task: "a", Op: OpSetStatusLine, Text: "running"})
	m.Apply(Update{Task: "b", Op: OpSetActorLine, Text: "triggered by you ...", Style: StyleGood})

	a := m.Pane("a")
	if len(a.Log) != 2 || a.Log[1].Style != StyleError {
		t.Errorf("Unexpected log for a: %+v", a.Log)
	}
	if a.Status.Text != "running" {
		t.Errorf("Expected status 'running', got %q", a.Status.Text)
	}
	if a.Actor.Text != "" {
		t.Errorf("Expected no actor line for a, got %q", a.Actor.Text)
	}

	// Pane returns a copy.
	a.Log[0].Text = "changed"
	if m.Pane("a").Log[0].Text != "one" {
		t.Errorf("Pane copy aliases the sink")
	}

	m.Apply(Update{Task: "a", Op: OpClearLog})
	if len(m.Pane("a").Log) != 0 {
		t.Errorf("Expected cleared log")
	}
	if m.Pane("b").Actor.Style != StyleGood {
		t.Errorf("Expected b actor line untouched")
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	styler := func(s Style, text string) string {
		if s == StyleError {
			return "!" + text
		}
		return text
	}
	s := NewWriterSink(&buf, styler)

	s.Apply(Update{Task: "script", Op: OpClearLog})
	s.Apply(Update{Task: "script", Op: OpAppendLine, Text: "Traceback", Style: StyleError})
	s.Apply(Update{Task: "script", Op: OpSetStatusLine, Text: "«script» command started"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[1], "!Traceback") {
		t.Errorf("Expected styled line, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "script") || !strings.Contains(lines[2], "= «script» command started") {
		t.Errorf("Unexpected status line %q", lines[2])
	}
}

func TestTee(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	Tee(a, b).Apply(Update{Task: "x", Op: OpSetStatusLine, Text: "hi"})
	if a.Pane("x").Status.Text != "hi" || b.Pane("x").Status.Text != "hi" {
		t.Errorf("Expected both sinks updated")
	}
}
