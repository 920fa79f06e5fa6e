// Package reconciler turns the status and progress events of server tasks
// into presentation updates.
//
// Events reach a task over two channels: responses to our own start/kill
// requests and pushed notifications. Their relative order is not known.
// The Reconciler is the one place where both streams serialize into the
// visible state of a task, including who triggered the current run.
//
// A Reconciler is not safe for concurrent use. Drive it from a single
// event loop.
package reconciler

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/knaw-huc/editem/internal/elapsed"
	"github.com/knaw-huc/editem/internal/models"
)

// Options configures a Reconciler.
type Options struct {
	// Project restricts the reconciler to events of one project.
	// Empty accepts events without a project id only.
	Project string
	// Dynamic declares unknown tasks on first sight instead of rejecting them.
	Dynamic bool
	// Tracker computes client-side elapsed times. Defaults to a legacy tracker.
	Tracker *elapsed.Tracker
	// Logger is the diagnostic channel. Defaults to discarding.
	Logger *slog.Logger
}

// Reconciler applies status and progress events to per-task state.
type Reconciler struct {
	project  string
	registry *Registry
	tracker  *elapsed.Tracker
	sink     Sink
	logger   *slog.Logger
}

// New creates a reconciler for the given tasks writing to sink.
func New(tasks []string, sink Sink, opts Options) *Reconciler {
	if opts.Tracker == nil {
		opts.Tracker = elapsed.NewTracker(nil, elapsed.PolicyLegacy)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		project:  opts.Project,
		registry: NewRegistry(tasks, opts.Dynamic),
		tracker:  opts.Tracker,
		sink:     sink,
		logger:   opts.Logger,
	}
}

// Project returns the project this reconciler is scoped to.
func (r *Reconciler) Project() string { return r.project }

// Tasks returns the declared tasks in order.
func (r *Reconciler) Tasks() []string { return r.registry.Names() }

// Declare adds a task, e.g. from a server-supplied task list.
func (r *Reconciler) Declare(task string) { r.registry.Declare(task) }

// State returns the visible state of a task. Undeclared tasks are idle.
func (r *Reconciler) State(task string) models.State {
	if ts, ok := r.registry.tasks[task]; ok {
		return ts.visible()
	}
	return models.StateIdle
}

// RunActor returns who triggered the current run of a task.
func (r *Reconciler) RunActor(task string) models.Actor {
	if ts, ok := r.registry.tasks[task]; ok {
		return ts.runActor
	}
	return models.ActorNone
}

// KillActor returns who triggered the current kill of a task.
func (r *Reconciler) KillActor(task string) models.Actor {
	if ts, ok := r.registry.tasks[task]; ok {
		return ts.killActor
	}
	return models.ActorNone
}

// Issued records that the local dispatcher sent a request for task.
// Pushed events that arrive before its response are attributed to us.
func (r *Reconciler) Issued(task string, action models.Action) {
	ts, err := r.registry.lookup(task)
	if err != nil {
		return
	}
	switch action {
	case models.ActionStart:
		if ts.startInFlight == 0 {
			ts.runsAtIssue = ts.runs
		}
		ts.startInFlight++
	case models.ActionKill:
		if ts.killInFlight == 0 {
			ts.endsAtIssue = ts.ends
		}
		ts.killInFlight++
	}
}

// Abandoned records that a request sent with Issued will not be answered.
func (r *Reconciler) Abandoned(task string, action models.Action) {
	ts, ok := r.registry.tasks[task]
	if !ok {
		return
	}
	switch action {
	case models.ActionStart:
		ts.startInFlight = max(0, ts.startInFlight-1)
	case models.ActionKill:
		ts.killInFlight = max(0, ts.killInFlight-1)
	}
}

func (r *Reconciler) inScope(project string) bool {
	return project == r.project
}

// Apply feeds one status event through the transition table.
//
// Events of another project are dropped without side effects. A terminal
// event whose precondition does not hold returns ErrInvalidTransition and
// leaves the sink untouched. Unknown kinds are rendered, never rejected.
func (r *Reconciler) Apply(ev models.StatusEvent) error {
	if !r.inScope(ev.Project) {
		r.logger.Debug("status for other project discarded", "project", ev.Project, "task", ev.Task, "stat", ev.Raw)
		return nil
	}
	ts, err := r.registry.lookup(ev.Task)
	if err != nil {
		r.logger.Warn("status for undeclared task", "task", ev.Task, "stat", ev.Raw)
		return err
	}

	switch ev.Kind {
	case models.KindStartIssued:
		r.startIssued(ts, ev)
	case models.KindStartPrevented:
		r.startPrevented(ts, ev)
	case models.KindStart:
		r.start(ts)
	case models.KindKillIssued:
		r.killIssued(ts, ev)
	case models.KindKillPrevented:
		r.killPrevented(ts, ev)
	case models.KindKill, models.KindSuccess, models.KindFailure, models.KindInterrupt:
		return r.finish(ts, ev)
	default:
		r.unknown(ts, ev)
	}
	return nil
}

func (r *Reconciler) startIssued(ts *taskState, ev models.StatusEvent) {
	late := ev.Local && ts.startInFlight > 0 && ts.runs > ts.runsAtIssue
	if ev.Local {
		ts.startInFlight = max(0, ts.startInFlight-1)
	}
	ts.pseudo = models.StateIdle

	if late {
		// The start notification outran this response: the run is ours.
		ts.provisional = false
		if ts.state.Running() && ts.runActor != models.ActorSelf {
			ts.runActor = models.ActorSelf
			r.renderRunActor(ts)
		}
		return
	}
	if ts.state.Running() {
		// A run we never saw end; the server accepted a new one anyway.
		r.setStatus(ts, fmt.Sprintf("«%s» command issued", ts.name), StylePlain)
		return
	}

	ts.state = models.StateStartIssued
	ts.runActor = actorOf(ev)
	ts.provisional = false
	r.setStatus(ts, fmt.Sprintf("«%s» command issued", ts.name), StylePlain)
}

func (r *Reconciler) startPrevented(ts *taskState, ev models.StatusEvent) {
	if ev.Local {
		if ts.provisional && ts.startInFlight > 0 && ts.runs > ts.runsAtIssue && ts.state.Running() {
			// The run we attributed to ourselves belongs to someone else.
			ts.runActor = models.ActorOther
			ts.provisional = false
			r.renderRunActor(ts)
		}
		ts.startInFlight = max(0, ts.startInFlight-1)
	}
	ts.pseudo = models.StateStartRejected
	r.setStatus(ts, fmt.Sprintf("«%s» command already running", ts.name), StyleWarning)
}

func (r *Reconciler) start(ts *taskState) {
	r.tracker.Anchor(ts.name)
	ts.runs++
	ts.state = models.StateRunning
	ts.pseudo = models.StateIdle
	ts.hasTerminal = false

	ts.provisional = false
	if ts.runActor != models.ActorSelf {
		if ts.startInFlight > 0 {
			ts.runActor = models.ActorSelf
			ts.provisional = true
		} else {
			ts.runActor = models.ActorOther
		}
	}
	ts.killActor = models.ActorNone

	r.emit(Update{Task: ts.name, Op: OpClearLog})
	r.setStatus(ts, fmt.Sprintf("«%s» command started", ts.name), StylePlain)
	r.renderRunActor(ts)
}

func (r *Reconciler) killIssued(ts *taskState, ev models.StatusEvent) {
	late := ev.Local && ts.killInFlight > 0 && ts.ends > ts.endsAtIssue
	if ev.Local {
		ts.killInFlight = max(0, ts.killInFlight-1)
	}
	ts.pseudo = models.StateIdle

	if late && !ts.state.Running() {
		// The run ended before this response arrived; keep its outcome.
		if ts.state == models.StateKilled || ts.state == models.StateInterrupted {
			r.emit(Update{Task: ts.name, Op: OpSetActorLine, Text: "killed by you ...", Style: StyleGood})
		}
		return
	}
	if ts.state.Running() {
		ts.state = models.StateKillIssued
		ts.killActor = actorOf(ev)
	}
	r.setStatus(ts, fmt.Sprintf("«%s» kill signalled", ts.name), StyleWarning)
}

func (r *Reconciler) killPrevented(ts *taskState, ev models.StatusEvent) {
	if ev.Local {
		ts.killInFlight = max(0, ts.killInFlight-1)
	}
	ts.pseudo = models.StateKillRejected
	r.setStatus(ts, fmt.Sprintf("«%s» command was not running", ts.name), StylePlain)
}

func targetOf(k models.Kind) models.State {
	switch k {
	case models.KindKill:
		return models.StateKilled
	case models.KindSuccess:
		return models.StateSucceeded
	case models.KindFailure:
		return models.StateFailed
	case models.KindInterrupt:
		return models.StateInterrupted
	}
	return models.StateIdle
}

func (r *Reconciler) finish(ts *taskState, ev models.StatusEvent) error {
	target := targetOf(ev.Kind)

	if ts.state == target && ts.hasTerminal {
		ts.pseudo = models.StateIdle
		r.emit(ts.terminal)
		return nil
	}

	allowed := ts.state.Running() || (ev.Kind == models.KindInterrupt && ts.state == models.StateKilled)
	if !allowed {
		err := fmt.Errorf("%w: task %q is %s, cannot apply %s", ErrInvalidTransition, ts.name, ts.state, ev.Kind)
		r.logger.Warn("status rejected", "task", ts.name, "state", ts.state.String(), "stat", ev.Raw)
		return err
	}

	var text string
	var style Style
	switch ev.Kind {
	case models.KindKill:
		if ts.killActor != models.ActorSelf && ts.killInFlight > 0 {
			ts.killActor = models.ActorSelf
		}
		r.renderKillActor(ts)
		text, style = fmt.Sprintf("«%s» killed", ts.name), StyleWarning
	case models.KindSuccess:
		text, style = fmt.Sprintf("%s: «%s» status OK", r.timeRep(ts, ev), ts.name), StyleGood
	case models.KindFailure:
		text, style = fmt.Sprintf("%s: «%s» status Error (%s)", r.timeRep(ts, ev), ts.name, ev.Message), StyleError
	case models.KindInterrupt:
		text, style = fmt.Sprintf("%s: «%s» status Interrupt (%s)", r.timeRep(ts, ev), ts.name, ev.Message), StyleWarning
	}

	ts.state = target
	ts.ends++
	ts.pseudo = models.StateIdle
	ts.runActor = models.ActorNone
	ts.killActor = models.ActorNone
	ts.provisional = false

	u := r.setStatus(ts, text, style)
	ts.terminal = u
	ts.hasTerminal = true
	return nil
}

func (r *Reconciler) unknown(ts *taskState, ev models.StatusEvent) {
	text := fmt.Sprintf("?? «%s» unknown status %q", ts.name, ev.Raw)
	if ev.Message != "" {
		text += " (" + ev.Message + ")"
	}
	r.logger.Warn("unknown status", "task", ts.name, "stat", ev.Raw, "msg", ev.Message)
	r.emit(Update{Task: ts.name, Op: OpAppendLine, Text: text, Style: StyleWarning})
}

func (r *Reconciler) renderRunActor(ts *taskState) {
	if ts.runActor == models.ActorSelf {
		r.emit(Update{Task: ts.name, Op: OpSetActorLine, Text: "triggered by you ...", Style: StyleGood})
		return
	}
	r.emit(Update{Task: ts.name, Op: OpSetActorLine, Text: "triggered by somebody else ...", Style: StyleWarning})
}

func (r *Reconciler) renderKillActor(ts *taskState) {
	if ts.killActor == models.ActorSelf {
		r.emit(Update{Task: ts.name, Op: OpSetActorLine, Text: "killed by you ...", Style: StyleGood})
		return
	}
	r.emit(Update{Task: ts.name, Op: OpSetActorLine, Text: "killed by somebody else ...", Style: StyleWarning})
}

// timeRep renders "server <tm> client <ctm>".
func (r *Reconciler) timeRep(ts *taskState, ev models.StatusEvent) string {
	tm := ev.ServerTime
	if tm == "" {
		tm = "--"
	}
	return fmt.Sprintf("server %s client %s", tm, r.clientTime(ts.name))
}

func (r *Reconciler) clientTime(task string) string {
	ctm, err := r.tracker.Elapsed(task)
	if err != nil {
		return "--"
	}
	return ctm
}

func (r *Reconciler) setStatus(ts *taskState, text string, style Style) Update {
	u := Update{Task: ts.name, Op: OpSetStatusLine, Text: text, Style: style}
	r.emit(u)
	return u
}

func (r *Reconciler) emit(u Update) {
	if r.sink != nil {
		r.sink.Apply(u)
	}
}

func actorOf(ev models.StatusEvent) models.Actor {
	if ev.Local {
		return models.ActorSelf
	}
	return models.ActorOther
}
