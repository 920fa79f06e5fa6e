// Package models defines the core domain types for editem.
package models

import "time"

// TaskKind selects how the server executes a task.
type TaskKind string

const (
	TaskKindFunction TaskKind = "function"
	TaskKindScript   TaskKind = "script"
)

// TaskDef declares a task the server knows how to run.
type TaskDef struct {
	Name    string   `json:"name" yaml:"name"`
	Kind    TaskKind `json:"kind" yaml:"kind"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Steps is the number of progress steps a function task emits.
	Steps int `json:"steps,omitempty" yaml:"steps,omitempty"`
	// ErrorSteps are reported with severity error.
	ErrorSteps []int `json:"error_steps,omitempty" yaml:"error_steps,omitempty"`
	// LongSteps maps a step number to its duration in seconds (default 1).
	LongSteps map[int]int `json:"long_steps,omitempty" yaml:"long_steps,omitempty"`
}

// Run represents one execution of a task on the server.
type Run struct {
	ID        string     `json:"id"`
	Task      string     `json:"task"`
	Project   string     `json:"pid,omitempty"`
	Stat      string     `json:"stat"`
	Msg       string     `json:"msg,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Task       string    `json:"task,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
