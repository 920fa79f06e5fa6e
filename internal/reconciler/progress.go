package reconciler

import (
	"fmt"

	"github.com/knaw-huc/editem/internal/models"
)

// Progress appends one progress line to a task's log and mirrors it to the
// diagnostic logger, at warning level for error output.
func (r *Reconciler) Progress(ev models.ProgressEvent) error {
	if !r.inScope(ev.Project) {
		return nil
	}
	ts, err := r.registry.lookup(ev.Task)
	if err != nil {
		r.logger.Warn("progress for undeclared task", "task", ev.Task)
		return err
	}

	tm := ev.ServerTime
	if tm == "" {
		tm = "--"
	}
	line := fmt.Sprintf("server %s, client %s: «%s» [%s] %s",
		tm, r.clientTime(ts.name), ts.name, ev.Severity.Abbrev(), ev.Text)

	style := StylePlain
	if ev.Severity == models.SeverityError {
		style = StyleError
		r.logger.Warn(line)
	} else {
		r.logger.Info(line)
	}

	r.emit(Update{Task: ts.name, Op: OpAppendLine, Text: line, Style: style})
	return nil
}
