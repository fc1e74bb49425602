// ABOUTME: Journal recording of device commands and session transitions
// ABOUTME: Adapts the connector's observer hooks onto the journal store with tool attribution

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/roborock-gateway/internal/store"
	"github.com/2389/roborock-gateway/internal/vacuum"
)

// journalWriteTimeout bounds a single journal write so a slow disk cannot
// hold the connector lock indefinitely.
const journalWriteTimeout = 2 * time.Second

// journalObserver records connector events in the journal store.
// Write failures are logged and never surface to the command caller.
type journalObserver struct {
	store  store.JournalStore
	logger *slog.Logger
}

func newJournalObserver(s store.JournalStore, logger *slog.Logger) *journalObserver {
	return &journalObserver{store: s, logger: logger}
}

// CommandFinished appends one command_log row. The tool name comes from the
// report, which the connector fills from the request context.
func (j *journalObserver) CommandFinished(ctx context.Context, rep vacuum.CommandReport) {
	rec := &store.CommandRecord{
		Tool:            rep.Tool,
		Command:         rep.Command,
		Outcome:         rep.Outcome,
		Error:           rep.Error,
		ConnectionReset: rep.Reset,
		Duration:        rep.Duration,
	}
	if rep.Params != nil {
		params, err := json.Marshal(rep.Params)
		if err != nil {
			j.logger.Warn("failed to encode command params", "command", rep.Command, "error", err)
		} else {
			rec.ParamsJSON = string(params)
		}
	}

	ctx, cancel := detached(ctx)
	defer cancel()
	if err := j.store.AppendCommand(ctx, rec); err != nil {
		j.logger.Error("failed to journal command", "command", rep.Command, "error", err)
	}
}

// SessionChanged appends one session_events row.
func (j *journalObserver) SessionChanged(ctx context.Context, ch vacuum.SessionChange) {
	ev := &store.SessionEvent{
		Kind:     string(ch.Kind),
		DeviceID: ch.DeviceID,
	}
	if ch.Err != nil {
		ev.Detail = ch.Err.Error()
	}

	ctx, cancel := detached(ctx)
	defer cancel()
	if err := j.store.AppendSessionEvent(ctx, ev); err != nil {
		j.logger.Error("failed to journal session event", "kind", ch.Kind, "error", err)
	}
}

// detached keeps ctx values but drops its cancellation, so a command that
// timed out is still journaled.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
}
