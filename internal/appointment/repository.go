package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

// Repository is the write-side store for appointments.
type Repository struct {
	events *es.Repository[Event]
}

func NewRepository(store es.Store) *Repository {
	return &Repository{events: es.NewRepository(store, NewCodec())}
}

// Save appends the appointment's uncommitted events, failing with a
// conflict when another writer got there first.
func (r *Repository) Save(ctx context.Context, a *Appointment) ([]es.Record, error) {
	recs, err := r.events.Save(ctx, a)
	if err != nil {
		if errors.Is(err, es.ErrVersionConflict) {
			return nil, es.Conflict("appointment.save", err)
		}
		return nil, es.Wrap(es.CodeInternal, "appointment.save", err)
	}
	return recs, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Appointment, error) {
	events, err := r.events.Load(ctx, id)
	if err != nil {
		if errors.Is(err, es.ErrNotFound) {
			return nil, es.NotFound("appointment.find", fmt.Errorf("%w: %s", ErrAppointmentNotFound, id))
		}
		return nil, es.Wrap(es.CodeInternal, "appointment.find", err)
	}
	return Reconstruct(id, events)
}

// Records returns the stored envelopes, oldest first.
func (r *Repository) Records(ctx context.Context, id string) ([]es.Record, error) {
	recs, err := r.events.Records(ctx, id)
	if err != nil {
		if errors.Is(err, es.ErrNotFound) {
			return nil, es.NotFound("appointment.records", fmt.Errorf("%w: %s", ErrAppointmentNotFound, id))
		}
		return nil, err
	}
	return recs, nil
}

func (r *Repository) Codec() *es.Codec[Event] {
	return r.events.Codec()
}
