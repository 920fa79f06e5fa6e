package reconciler

import (
	"fmt"
	"io"
)

// Styler decorates text for a style, e.g. with terminal colors.
type Styler func(style Style, text string) string

// WriterSink renders updates as a stream of lines, one per update, prefixed
// with the task name. Clearing the log is shown as a separator.
type WriterSink struct {
	w      io.Writer
	styler Styler
}

// NewWriterSink writes to w. A nil styler writes text unchanged.
func NewWriterSink(w io.Writer, styler Styler) *WriterSink {
	if styler == nil {
		styler = func(_ Style, text string) string { return text }
	}
	return &WriterSink{w: w, styler: styler}
}

// Apply implements Sink.
func (s *WriterSink) Apply(u Update) {
	switch u.Op {
	case OpClearLog:
		fmt.Fprintf(s.w, "%-10s ----\n", u.Task)
	case OpAppendLine:
		fmt.Fprintf(s.w, "%-10s   %s\n", u.Task, s.styler(u.Style, u.Text))
	case OpSetStatusLine:
		fmt.Fprintf(s.w, "%-10s = %s\n", u.Task, s.styler(u.Style, u.Text))
	case OpSetActorLine:
		fmt.Fprintf(s.w, "%-10s @ %s\n", u.Task, s.styler(u.Style, u.Text))
	}
}
