package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/knaw-huc/editem/internal/client"
	"github.com/knaw-huc/editem/internal/models"
	"github.com/knaw-huc/editem/internal/reconciler"
)

type fakeRequester struct {
	calls []string
	resp  client.Response
	err   error
}

func (f *fakeRequester) Do(_ context.Context, task string, action models.Action) (client.Response, error) {
	f.calls = append(f.calls, string(action)+" "+task)
	return f.resp, f.err
}

func newTestDispatcher(req Requester) (*Dispatcher, *reconciler.Reconciler, *reconciler.MemorySink) {
	sink := reconciler.NewMemorySink()
	rec := reconciler.New([]string{"function", "script"}, sink, reconciler.Options{})
	return New(req, rec, sink, nil), rec, sink
}

func TestResponseFeedsReconciler(t *testing.T) {
	req := &fakeRequester{resp: client.Response{Task: "function", Stat: "start-issued", Msg: "about to start"}}
	d, rec, sink := newTestDispatcher(req)

	call := d.Send(context.Background(), "function", models.ActionStart)
	if err := d.Handle(call()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(req.calls) != 1 || req.calls[0] != "run function" {
		t.Errorf("Unexpected calls %v", req.calls)
	}
	if rec.State("function") != models.StateStartIssued {
		t.Errorf("Expected start-issued, got %s", rec.State("function"))
	}
	if rec.RunActor("function") != models.ActorSelf {
		t.Errorf("Expected local start attributed to self")
	}
	if got := sink.Pane("function").Status.Text; got != "«function» command issued" {
		t.Errorf("Unexpected status %q", got)
	}
}

func TestTransportFailureLeavesStateUntouched(t *testing.T) {
	req := &fakeRequester{err: &client.TransportError{Op: "run", Code: http.StatusBadGateway, StatusText: "Bad Gateway"}}
	d, rec, sink := newTestDispatcher(req)

	if err := rec.Apply(models.StatusEvent{Task: "script", Kind: models.KindStart, Raw: "start"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	before := rec.State("script")

	call := d.Send(context.Background(), "script", models.ActionStart)
	if err := d.Handle(call()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if rec.State("script") != before {
		t.Errorf("Expected state %s, got %s", before, rec.State("script"))
	}
	st := sink.Pane("script").Status
	if st.Text != "Error run 502 Bad Gateway" || st.Style != reconciler.StyleError {
		t.Errorf("Unexpected transport failure line %+v", st)
	}
	if strings.Contains(st.Text, "status") {
		t.Errorf("Transport failure rendered like a server status: %q", st.Text)
	}
}

func TestAbandonedRequestDoesNotClaimLaterRuns(t *testing.T) {
	req := &fakeRequester{err: errors.New("connection refused")}
	d, rec, sink := newTestDispatcher(req)

	call := d.Send(context.Background(), "function", models.ActionStart)
	if err := d.Handle(call()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got := sink.Pane("function").Status.Text; got != "Error run 0 connection refused" {
		t.Errorf("Unexpected failure line %q", got)
	}

	if err := rec.Apply(models.StatusEvent{Task: "function", Kind: models.KindStart, Raw: "start"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if rec.RunActor("function") != models.ActorOther {
		t.Errorf("Expected run after failed request attributed to other, got %s", rec.RunActor("function"))
	}
}

func TestRepeatedStartIsSent(t *testing.T) {
	req := &fakeRequester{resp: client.Response{Task: "function", Stat: "start-prevented", Msg: "already running"}}
	d, rec, _ := newTestDispatcher(req)

	if err := rec.Apply(models.StatusEvent{Task: "function", Kind: models.KindStart, Raw: "start"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Handle(d.Send(context.Background(), "function", models.ActionStart)()); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}

	if len(req.calls) != 2 {
		t.Errorf("Expected both requests sent, got %d", len(req.calls))
	}
	if rec.State("function") != models.StateStartRejected {
		t.Errorf("Expected start-rejected, got %s", rec.State("function"))
	}
}
