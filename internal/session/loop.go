// Package session runs the client event loop without a terminal UI.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/knaw-huc/editem/internal/dispatch"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/push"
	"github.com/knaw-huc/editem/internal/reconciler"
)

// QueueSize is the buffer of each loop input.
const QueueSize = 64

type request struct {
	task   string
	action models.Action
}

// Loop serializes pushed messages, local requests and their outcomes onto
// one goroutine, the only one that touches the reconciler.
type Loop struct {
	rec    *reconciler.Reconciler
	disp   *dispatch.Dispatcher
	logger *slog.Logger

	messages chan push.Message
	requests chan request
	outcomes chan dispatch.Outcome
}

// New creates a loop driving rec. disp may be nil for a watch-only loop.
func New(rec *reconciler.Reconciler, disp *dispatch.Dispatcher, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		rec:      rec,
		disp:     disp,
		logger:   logger,
		messages: make(chan push.Message, QueueSize),
		requests: make(chan request, QueueSize),
		outcomes: make(chan dispatch.Outcome, QueueSize),
	}
}

// Messages is where a push.Subscriber delivers frames.
func (l *Loop) Messages() chan<- push.Message {
	return l.messages
}

// RequestWhenReady waits until ready is closed, then queues action for each
// task. It gives up when ctx is done. It is safe to call from any
// goroutine but blocks until Run drains the queue.
func (l *Loop) RequestWhenReady(ctx context.Context, ready <-chan struct{}, tasks []string, action models.Action) {
	select {
	case <-ready:
	case <-ctx.Done():
		return
	}
	for _, t := range tasks {
		select {
		case l.requests <- request{task: t, action: action}:
		case <-ctx.Done():
			return
		}
	}
}

// Run processes inputs until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-l.messages:
			l.HandleMessage(m)
		case r := <-l.requests:
			l.send(ctx, r)
		case o := <-l.outcomes:
			l.HandleOutcome(o)
		}
	}
}

func (l *Loop) send(ctx context.Context, r request) {
	if l.disp == nil {
		l.logger.Warn("request dropped, no dispatcher", "task", r.task, "action", string(r.action))
		return
	}
	call := l.disp.Send(ctx, r.task, r.action)
	go func() {
		o := call()
		select {
		case l.outcomes <- o:
		case <-ctx.Done():
		}
	}()
}

// HandleMessage applies one pushed message. It must run on the loop.
func (l *Loop) HandleMessage(m push.Message) {
	var err error
	switch {
	case m.Status != nil:
		err = l.rec.Apply(*m.Status)
	case m.Progress != nil:
		err = l.rec.Progress(*m.Progress)
	}
	l.report(err)
}

// HandleOutcome applies the outcome of a request. It must run on the loop.
func (l *Loop) HandleOutcome(o dispatch.Outcome) {
	if l.disp == nil {
		return
	}
	l.report(l.disp.Handle(o))
}

func (l *Loop) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, reconciler.ErrInvalidTransition):
		l.logger.Warn("event rejected", "err", err)
	case errors.Is(err, reconciler.ErrUnknownTask):
		l.logger.Debug("event for undeclared task", "err", err)
	default:
		l.logger.Error("event failed", "err", err)
	}
}
