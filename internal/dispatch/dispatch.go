// Package dispatch sends start and kill requests and feeds their outcome
// back into the reconciler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/knaw-huc/editem/internal/client"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/reconciler"
)

// Requester performs one start or kill request.
type Requester interface {
	Do(ctx context.Context, task string, action models.Action) (client.Response, error)
}

// Outcome is the result of one request, delivered back to the event loop.
type Outcome struct {
	Task     string
	Action   models.Action
	Response client.Response
	Err      error
}

// Dispatcher issues requests on behalf of the event loop.
type Dispatcher struct {
	req    Requester
	rec    *reconciler.Reconciler
	sink   reconciler.Sink
	logger *slog.Logger
}

// New creates a dispatcher. sink must be the sink rec writes to: transport
// failures are written there directly.
func New(req Requester, rec *reconciler.Reconciler, sink reconciler.Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{req: req, rec: rec, sink: sink, logger: logger}
}

// Send marks the request as in flight and returns the blocking call to run
// off the event loop. Its Outcome must be passed to Handle on the loop.
func (d *Dispatcher) Send(ctx context.Context, task string, action models.Action) func() Outcome {
	d.rec.Issued(task, action)
	d.logger.Debug("request issued", "task", task, "action", string(action))
	return func() Outcome {
		return d.Dispatch(ctx, task, action)
	}
}

// Dispatch performs the request. It is safe to call from any goroutine and
// does not touch the reconciler.
func (d *Dispatcher) Dispatch(ctx context.Context, task string, action models.Action) Outcome {
	resp, err := d.req.Do(ctx, task, action)
	return Outcome{Task: task, Action: action, Response: resp, Err: err}
}

// Handle applies an outcome. A response becomes a local status event; a
// transport failure is shown on the task's status line and leaves its
// state as it was.
func (d *Dispatcher) Handle(o Outcome) error {
	if o.Err != nil {
		d.rec.Abandoned(o.Task, o.Action)
		d.logger.Error("request failed", "task", o.Task, "action", string(o.Action), "err", o.Err)
		d.sink.Apply(reconciler.Update{
			Task:  o.Task,
			Op:    reconciler.OpSetStatusLine,
			Text:  failureText(o),
			Style: reconciler.StyleError,
		})
		return nil
	}
	return d.rec.Apply(o.Response.Event(o.Task))
}

func failureText(o Outcome) string {
	var te *client.TransportError
	if errors.As(o.Err, &te) {
		return te.Error()
	}
	return fmt.Sprintf("Error %s 0 %v", o.Action, o.Err)
}
