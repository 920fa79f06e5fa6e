// Package controlplane provides the HTTP API and service layer of the
// editem task server.
package controlplane

import (
	"errors"
	"fmt"
	"log"

	"github.com/knaw-huc/editem/internal/audit"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/runner"
	"github.com/knaw-huc/editem/internal/store"
)

// Verdict is the answer to a run or kill request.
type Verdict struct {
	Task    string `json:"task,omitempty"`
	Project string `json:"pid,omitempty"`
	Stat    string `json:"stat"`
	Msg     string `json:"msg,omitempty"`
}

// Service provides the control plane business logic.
type Service struct {
	runner *runner.Runner
	broker *push.Broker
	store  *store.Store
	pdr    *audit.PDRWriter
}

// NewService creates a new control plane service. st and pdr may be nil.
func NewService(r *runner.Runner, b *push.Broker, st *store.Store, pdr *audit.PDRWriter) *Service {
	return &Service{
		runner: r,
		broker: b,
		store:  st,
		pdr:    pdr,
	}
}

// Tasks returns the identifiers of all runnable tasks.
func (s *Service) Tasks() []string {
	return s.runner.Tasks()
}

// Stats reports the runner's load.
func (s *Service) Stats() map[string]interface{} {
	return s.runner.GetStats()
}

// Run decides on a start request. An accepted request starts the task in
// the background; its start is announced over the push channel.
func (s *Service) Run(project, task, remote string) (Verdict, error) {
	v := Verdict{Task: task, Project: project}
	err := s.runner.Start(project, task)
	switch {
	case err == nil:
		v.Stat, v.Msg = runner.Label(models.KindStartIssued, project), "about to start"
	case errors.Is(err, runner.ErrAlreadyRunning):
		v.Stat, v.Msg = runner.Label(models.KindStartPrevented, project), "already running"
	case errors.Is(err, runner.ErrAtCapacity):
		v.Stat, v.Msg = runner.Label(models.KindStartPrevented, project), "too many tasks running"
	case errors.Is(err, runner.ErrUnknownTask):
		return v, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	default:
		return v, err
	}

	s.record(audit.Decision{Action: string(models.ActionStart), Task: task, Project: project, Remote: remote}, v)
	return v, nil
}

// Kill decides on a kill request. An accepted request signals the run to
// stop and announces the kill; the interrupt follows once it has stopped.
func (s *Service) Kill(project, task, remote string) (Verdict, error) {
	v := Verdict{Task: task, Project: project}
	if !s.runner.Has(task) {
		return v, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}

	err := s.runner.Stop(project, task)
	switch {
	case err == nil:
		s.broker.Status(push.StatusData{
			Project: project,
			Task:    task,
			Stat:    runner.Label(models.KindKill, project),
			Msg:     "kill signalled",
		})
		v.Stat, v.Msg = runner.Label(models.KindKillIssued, project), "about to kill"
	case errors.Is(err, runner.ErrNotRunning):
		v.Stat, v.Msg = runner.Label(models.KindKillPrevented, project), "not running"
	default:
		return v, err
	}

	s.record(audit.Decision{Action: string(models.ActionKill), Task: task, Project: project, Remote: remote}, v)
	return v, nil
}

// Runs returns the run history of a task, newest first.
func (s *Service) Runs(task string, limit int) ([]models.Run, error) {
	if !s.runner.Has(task) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.GetRunsForTask(task, limit)
}

func (s *Service) record(d audit.Decision, v Verdict) {
	if s.pdr == nil {
		return
	}
	if _, err := s.pdr.Record(d, v.Stat, v.Msg); err != nil {
		log.Printf("Error writing PDR for %s %s: %v", d.Action, d.Task, err)
	}
}
