package reconciler

// Line is a rendered piece of text with its style.
type Line struct {
	Text  string
	Style Style
}

// Pane is the presentation of one task.
type Pane struct {
	Log    []Line
	Status Line
	Actor  Line
}

// MemorySink keeps the presentation of every task in memory. Renderers
// read it; the reconciler writes it through Apply.
type MemorySink struct {
	panes map[string]*Pane
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{panes: make(map[string]*Pane)}
}

// Apply implements Sink.
func (m *MemorySink) Apply(u Update) {
	p := m.pane(u.Task)
	switch u.Op {
	case OpClearLog:
		p.Log = nil
	case OpAppendLine:
		p.Log = append(p.Log, Line{Text: u.Text, Style: u.Style})
	case OpSetStatusLine:
		p.Status = Line{Text: u.Text, Style: u.Style}
	case OpSetActorLine:
		p.Actor = Line{Text: u.Text, Style: u.Style}
	}
}

func (m *MemorySink) pane(task string) *Pane {
	p, ok := m.panes[task]
	if !ok {
		p = &Pane{}
		m.panes[task] = p
	}
	return p
}

// Pane returns a copy of a task's presentation.
func (m *MemorySink) Pane(task string) Pane {
	p, ok := m.panes[task]
	if !ok {
		return Pane{}
	}
	out := *p
	out.Log = append([]Line(nil), p.Log...)
	return out
}
