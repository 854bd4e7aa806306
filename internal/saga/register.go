package saga

import (
	"context"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

// Register subscribes every saga to the dispatcher. Each record gets its
// own goroutine so a slow external call only stalls its own saga. When
// dedupe is non-nil a record's event id is claimed before its saga runs.
func Register(d *es.Dispatcher, deps *Deps, dedupe Deduper) {
	creation := NewCreationSaga(deps)
	confirmation := NewConfirmationSaga(deps)
	cancellation := NewCancellationSaga(deps)
	invitation := NewInvitationSaga(deps)

	apptCodec := appointment.NewCodec()
	d.Subscribe("saga.appointment", es.Concurrent, func(ctx context.Context, rec es.Record) error {
		if !apptCodec.Handles(rec) {
			return nil
		}
		e, err := apptCodec.Decode(rec)
		if err != nil {
			return err
		}

		var run func() telemetry.SagaOutcome
		switch ev := e.(type) {
		case appointment.Created:
			run = func() telemetry.SagaOutcome { return creation.Handle(ctx, ev) }
		case appointment.Confirmed:
			run = func() telemetry.SagaOutcome { return confirmation.Handle(ctx, ev) }
		case appointment.Cancelled:
			run = func() telemetry.SagaOutcome { return cancellation.Handle(ctx, ev) }
		default:
			return nil
		}
		if claimed(ctx, deps, dedupe, rec) {
			run()
		}
		return nil
	})

	visioCodec := visio.NewCodec()
	d.Subscribe("saga.visio_invitation", es.Concurrent, func(ctx context.Context, rec es.Record) error {
		if rec.EventType != visio.EventConnectionLinkGenerated || !visioCodec.Handles(rec) {
			return nil
		}
		e, err := visioCodec.Decode(rec)
		if err != nil {
			return err
		}
		ev, ok := e.(visio.ConnectionLinkGenerated)
		if !ok {
			return nil
		}
		if claimed(ctx, deps, dedupe, rec) {
			invitation.Handle(ctx, ev)
		}
		return nil
	})
}

func claimed(ctx context.Context, deps *Deps, dedupe Deduper, rec es.Record) bool {
	if dedupe == nil || rec.EventID == "" {
		return true
	}
	ok, err := dedupe.Claim(ctx, "saga", rec.EventID)
	if err != nil {
		deps.Log.Warn("saga dedupe unavailable, running anyway", "event_id", rec.EventID, "error", err)
		return true
	}
	if !ok {
		deps.Log.Info("saga already ran for event", "event_id", rec.EventID, "event_type", rec.EventType)
		deps.Emitter.SagaFinished(ctx, telemetry.SagaOutcome{Saga: rec.EventType, Key: rec.AggregateID, Status: telemetry.SagaSkipped})
	}
	return ok
}
