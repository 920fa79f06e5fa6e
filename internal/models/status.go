package models

import "strings"

// Kind is a task lifecycle label carried by status events.
type Kind int

const (
	KindUnknown Kind = iota
	KindStartIssued
	KindStartPrevented
	KindStart
	KindKillIssued
	KindKill
	KindKillPrevented
	KindSuccess
	KindFailure
	KindInterrupt
)

type kindLabels struct {
	task    string
	project string
}

var labels = map[Kind]kindLabels{
	KindStartIssued:    {"start-issued", "start-outer"},
	KindStartPrevented: {"start-prevented", "start-outer-no"},
	KindStart:          {"start", "start-inner"},
	KindKillIssued:     {"kill-issued", "kill-outer"},
	KindKill:           {"kill", "kill-inner"},
	KindKillPrevented:  {"kill-prevented", "kill-outer-no"},
	KindSuccess:        {"success", "success-inner"},
	KindFailure:        {"failure", "failure-inner"},
	KindInterrupt:      {"interrupt", "interrupt-inner"},
}

var byLabel = func() map[string]Kind {
	m := make(map[string]Kind, 2*len(labels))
	for k, l := range labels {
		m[l.task] = k
		m[l.project] = k
	}
	return m
}()

// ParseKind maps a wire label onto a Kind. Both the per-task vocabulary
// ("start", "kill-issued") and the project vocabulary ("start-inner",
// "kill-outer") are accepted. Anything else is KindUnknown.
func ParseKind(label string) Kind {
	if k, ok := byLabel[strings.TrimSpace(label)]; ok {
		return k
	}
	return KindUnknown
}

// String returns the per-task wire label.
func (k Kind) String() string {
	if l, ok := labels[k]; ok {
		return l.task
	}
	return "unknown"
}

// ProjectLabel returns the wire label used by project scoped endpoints.
func (k Kind) ProjectLabel() string {
	if l, ok := labels[k]; ok {
		return l.project
	}
	return "unknown"
}

// Terminal reports whether the kind ends a run.
func (k Kind) Terminal() bool {
	switch k {
	case KindKill, KindSuccess, KindFailure, KindInterrupt:
		return true
	}
	return false
}

// Severity tags a progress line.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Abbrev returns the three letter form shown in progress lines.
func (s Severity) Abbrev() string {
	r := []rune(string(s))
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

// StatusEvent is one lifecycle notification for a task.
type StatusEvent struct {
	Project    string
	Task       string
	Kind       Kind
	Raw        string // wire label as received
	ServerTime string
	Message    string
	// Local marks events decoded from a response to our own request.
	Local bool
}

// ProgressEvent is one line of task output.
type ProgressEvent struct {
	Project    string
	Task       string
	Severity   Severity
	Text       string
	ServerTime string
}

// State is the client side view of a task.
type State int

const (
	StateIdle State = iota
	StateStartIssued
	StateRunning
	StateKillIssued
	StateKilled
	StateSucceeded
	StateFailed
	StateInterrupted
	StateStartRejected
	StateKillRejected
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateStartIssued:   "start-issued",
	StateRunning:       "running",
	StateKillIssued:    "kill-issued",
	StateKilled:        "killed",
	StateSucceeded:     "succeeded",
	StateFailed:        "failed",
	StateInterrupted:   "interrupted",
	StateStartRejected: "start-rejected",
	StateKillRejected:  "kill-rejected",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// Running reports whether a run is in progress, including one being killed.
func (s State) Running() bool {
	return s == StateRunning || s == StateKillIssued
}

// Actor attributes the current start or kill cycle.
type Actor int

const (
	ActorNone Actor = iota
	ActorSelf
	ActorOther
)

func (a Actor) String() string {
	switch a {
	case ActorSelf:
		return "self"
	case ActorOther:
		return "other"
	}
	return "none"
}

// Action is a user gesture sent to the server.
type Action string

const (
	ActionStart Action = "run"
	ActionKill  Action = "kill"
)
