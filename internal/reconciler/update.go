package reconciler

// Op names the kind of change a sink update makes.
type Op int

const (
	OpClearLog Op = iota
	OpAppendLine
	OpSetStatusLine
	OpSetActorLine
)

func (o Op) String() string {
	switch o {
	case OpClearLog:
		return "clear"
	case OpAppendLine:
		return "append"
	case OpSetStatusLine:
		return "status"
	case OpSetActorLine:
		return "actor"
	}
	return "unknown"
}

// Style is the presentation class of a line.
type Style int

const (
	StylePlain Style = iota
	StyleGood
	StyleWarning
	StyleError
)

func (s Style) String() string {
	switch s {
	case StyleGood:
		return "good"
	case StyleWarning:
		return "warning"
	case StyleError:
		return "error"
	}
	return ""
}

// Update is one declarative change to a task's presentation.
type Update struct {
	Task  string
	Op    Op
	Text  string
	Style Style
}

// Sink applies updates. Implementations own the rendering; the reconciler
// only ever describes what changed.
type Sink interface {
	Apply(u Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u Update)

// Apply calls f(u).
func (f SinkFunc) Apply(u Update) { f(u) }

// Tee fans an update out to several sinks in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(u Update) {
		for _, s := range sinks {
			s.Apply(u)
		}
	})
}
