package reconciler

import (
	"fmt"

	"github.com/knaw-huc/editem/internal/models"
)

// taskState is everything the reconciler knows about one task.
type taskState struct {
	name   string
	state  models.State
	pseudo models.State // StateStartRejected, StateKillRejected or StateIdle for none

	runActor  models.Actor
	killActor models.Actor
	// provisional is set when runActor was inferred from an in-flight
	// request rather than confirmed by its response.
	provisional bool

	startInFlight int
	killInFlight  int
	runs          int
	runsAtIssue   int

	// ends counts applied kill and terminal events.
	ends        int
	endsAtIssue int

	terminal    Update
	hasTerminal bool
}

func (ts *taskState) visible() models.State {
	if ts.pseudo != models.StateIdle {
		return ts.pseudo
	}
	return ts.state
}

// Registry is the ordered set of declared tasks. Tasks are never removed.
type Registry struct {
	order   []string
	tasks   map[string]*taskState
	dynamic bool
}

// NewRegistry declares the given tasks. A dynamic registry also declares
// tasks the first time an event names them.
func NewRegistry(names []string, dynamic bool) *Registry {
	g := &Registry{tasks: make(map[string]*taskState), dynamic: dynamic}
	for _, n := range names {
		g.Declare(n)
	}
	return g
}

// Declare adds a task if it is not known yet.
func (g *Registry) Declare(name string) {
	g.declare(name)
}

func (g *Registry) declare(name string) *taskState {
	if ts, ok := g.tasks[name]; ok {
		return ts
	}
	ts := &taskState{name: name}
	g.tasks[name] = ts
	g.order = append(g.order, name)
	return ts
}

// Names returns the tasks in declaration order.
func (g *Registry) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Registry) lookup(name string) (*taskState, error) {
	if ts, ok := g.tasks[name]; ok {
		return ts, nil
	}
	if g.dynamic && name != "" {
		return g.declare(name), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
}
