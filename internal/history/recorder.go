package history

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mbrandt/autocoder/internal/events"
)

// Recorder drains the event bus into the journal.
type Recorder struct {
	store *Store
	sub   <-chan events.Event
	log   zerolog.Logger
}

// NewRecorder subscribes to all topics on bus. Call Run to start draining.
func NewRecorder(store *Store, bus *events.Bus, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		sub:   bus.SubscribeAll(1024),
		log:   log,
	}
}

// Run consumes events until the bus closes or ctx is cancelled.
// Journal write failures are logged and skipped; the journal must never
// stall task execution.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.sub:
			if !ok {
				return
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	var err error
	switch ev := ev.(type) {
	case events.TaskStartedEvent:
		err = r.store.RecordTaskEvent(ctx, ev.ID, ev.Kind, "started", "", 0)
	case events.TaskCompletedEvent:
		err = r.store.RecordTaskEvent(ctx, ev.ID, ev.Kind, "completed", "", ev.Duration)
	case events.TaskFailedEvent:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		err = r.store.RecordTaskEvent(ctx, ev.ID, ev.Kind, "failed", msg, ev.Duration)
	case events.RunFinishedEvent:
		err = r.store.RecordRun(ctx, ev.Completed, ev.Failed, ev.Blocked, ev.Stalled)
	default:
		return
	}

	if err != nil {
		r.log.Error().Err(err).Str("event", ev.EventType()).Msg("journaling event")
	}
}
