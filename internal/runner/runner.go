package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/knaw-huc/editem/internal/connectors"
	"github.com/knaw-huc/editem/internal/elapsed"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/store"
)

// Errors returned by Start and Stop.
var (
	ErrUnknownTask    = errors.New("unknown task")
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrAtCapacity     = errors.New("at capacity")
)

// InterruptMessage is the outcome message of a killed run.
const InterruptMessage = "interrupted by user"

// Publisher receives the frames produced by running tasks.
type Publisher interface {
	Progress(d push.ProgressData)
	Status(d push.StatusData)
}

// builtinConnector is the connector name function tasks count against.
const builtinConnector = "builtin"

type key struct {
	project string
	task    string
}

type activeRun struct {
	id        string
	connector string
	cancel    context.CancelFunc
	stopped   bool
}

// Runner starts and stops tasks. A task runs at most once per project at a
// time.
type Runner struct {
	defs      map[string]models.TaskDef
	order     []string
	store     *store.Store
	pub       Publisher
	connector connectors.Connector
	config    *Config
	clock     elapsed.Clock

	mu              sync.Mutex
	running         map[key]*activeRun
	connectorCounts map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner for the given task definitions. st may be nil, in
// which case no run history is kept.
func New(defs []models.TaskDef, st *store.Store, pub Publisher, conn connectors.Connector, cfg *Config) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StepUnit <= 0 {
		cfg.StepUnit = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		defs:            make(map[string]models.TaskDef, len(defs)),
		store:           st,
		pub:             pub,
		connector:       conn,
		config:          cfg,
		clock:           elapsed.SystemClock{},
		running:         make(map[key]*activeRun),
		connectorCounts: make(map[string]int),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, d := range defs {
		if _, dup := r.defs[d.Name]; !dup {
			r.order = append(r.order, d.Name)
		}
		r.defs[d.Name] = d
	}
	return r
}

// Tasks returns the task names in definition order.
func (r *Runner) Tasks() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether task is defined.
func (r *Runner) Has(task string) bool {
	_, ok := r.defs[task]
	return ok
}

// Start launches task for project in the background. The start status is
// published by the run itself.
func (r *Runner) Start(project, task string) error {
	def, ok := r.defs[task]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	connectorName := builtinConnector
	if def.Kind == models.TaskKindScript {
		if r.connector == nil {
			return fmt.Errorf("no connector for script task %q", task)
		}
		connectorName = r.connector.Name()
	}

	r.mu.Lock()
	k := key{project, task}
	if _, busy := r.running[k]; busy {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(r.running) >= r.config.GlobalMax ||
		r.connectorCounts[connectorName] >= r.config.GetConnectorLimit(connectorName) {
		r.mu.Unlock()
		return ErrAtCapacity
	}

	ctx, cancel := context.WithCancel(r.ctx)
	run := &activeRun{connector: connectorName, cancel: cancel}
	r.running[k] = run
	r.connectorCounts[connectorName]++
	r.mu.Unlock()

	if r.store != nil {
		rec, err := r.store.CreateRun(task, project)
		if err != nil {
			log.Printf("Error recording run of %s: %v", task, err)
		} else {
			run.id = rec.ID
		}
	}

	r.wg.Add(1)
	go r.execute(ctx, k, def, run)
	return nil
}

// Stop signals a running task to stop. Its outcome is published as an
// interrupt once it has stopped.
func (r *Runner) Stop(project, task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.running[key{project, task}]
	if !ok {
		return ErrNotRunning
	}
	run.stopped = true
	run.cancel()
	return nil
}

// Shutdown stops all runs and waits for them to finish.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
	log.Println("Runner stopped")
}

// GetStats returns current runner statistics.
func (r *Runner) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectorCounts := make(map[string]int)
	for k, v := range r.connectorCounts {
		connectorCounts[k] = v
	}
	return map[string]interface{}{
		"active_runs":      len(r.running),
		"global_max":       r.config.GlobalMax,
		"connector_counts": connectorCounts,
	}
}

func (r *Runner) execute(ctx context.Context, k key, def models.TaskDef, run *activeRun) {
	defer r.wg.Done()
	defer run.cancel()

	sw := elapsed.NewStopwatch(r.clock)
	r.pub.Status(push.StatusData{TM: sw.Elapsed(), Project: k.project, Task: k.task, Stat: Label(models.KindStart, k.project)})
	log.Printf("Run %s of %s started", run.id, k.task)

	var kind models.Kind
	var msg string
	switch def.Kind {
	case models.TaskKindScript:
		kind, msg = r.runScript(ctx, k, def, sw)
	default:
		kind, msg = r.runFunction(ctx, k, def, sw)
	}

	r.mu.Lock()
	if run.stopped && kind != models.KindInterrupt {
		// Killed while finishing: the kill wins.
		kind, msg = models.KindInterrupt, InterruptMessage
	}
	delete(r.running, k)
	r.connectorCounts[run.connector]--
	r.mu.Unlock()

	if r.store != nil && run.id != "" {
		if err := r.store.FinishRun(run.id, kind.String(), msg); err != nil {
			log.Printf("Error recording outcome of run %s: %v", run.id, err)
		}
	}
	r.pub.Status(push.StatusData{TM: sw.Elapsed(), Project: k.project, Task: k.task, Stat: Label(kind, k.project), Msg: msg})
	log.Printf("Run %s of %s ended: %s %s", run.id, k.task, kind, msg)
}

func (r *Runner) runFunction(ctx context.Context, k key, def models.TaskDef, sw *elapsed.Stopwatch) (models.Kind, string) {
	errorSteps := make(map[int]bool, len(def.ErrorSteps))
	for _, s := range def.ErrorSteps {
		errorSteps[s] = true
	}

	for i := 1; i <= def.Steps; i++ {
		if ctx.Err() != nil {
			return models.KindInterrupt, InterruptMessage
		}
		severity := models.SeverityInfo
		if errorSteps[i] {
			severity = models.SeverityError
		}
		r.pub.Progress(push.ProgressData{
			TM:      sw.Elapsed(),
			Project: k.project,
			Task:    k.task,
			Kind:    string(severity),
			Text:    fmt.Sprintf("%s step %d", def.Name, i),
		})

		units := 1
		if n, ok := def.LongSteps[i]; ok {
			units = n
		}
		select {
		case <-ctx.Done():
			return models.KindInterrupt, InterruptMessage
		case <-time.After(time.Duration(units) * r.config.StepUnit):
		}
	}
	return models.KindSuccess, "ok"
}

func (r *Runner) runScript(ctx context.Context, k key, def models.TaskDef, sw *elapsed.Stopwatch) (models.Kind, string) {
	onLine := func(stream connectors.Stream, line string) {
		severity := models.SeverityInfo
		if stream == connectors.Stderr {
			severity = models.SeverityError
		}
		r.pub.Progress(push.ProgressData{
			TM:      sw.Elapsed(),
			Project: k.project,
			Task:    k.task,
			Kind:    string(severity),
			Text:    line,
		})
	}

	result, err := r.connector.Execute(ctx, def.Command, def.Args, onLine)
	switch {
	case err != nil:
		return models.KindFailure, fmt.Sprintf("exception script %v", err)
	case result.Interrupted:
		return models.KindInterrupt, InterruptMessage
	case result.ExitCode != 0:
		return models.KindFailure, fmt.Sprintf("exit with %d", result.ExitCode)
	}
	return models.KindSuccess, ""
}

// Label returns the wire label of kind, using the project vocabulary for
// project runs.
func Label(kind models.Kind, project string) string {
	if project != "" {
		return kind.ProjectLabel()
	}
	return kind.String()
}
