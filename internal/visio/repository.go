package visio

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

type Repository struct {
	events *es.Repository[Event]
}

func NewRepository(store es.Store) *Repository {
	return &Repository{events: es.NewRepository(store, NewCodec())}
}

func (r *Repository) Save(ctx context.Context, v *Visio) ([]es.Record, error) {
	recs, err := r.events.Save(ctx, v)
	if err != nil {
		if errors.Is(err, es.ErrVersionConflict) {
			return nil, es.Conflict("visio.save", err)
		}
		return nil, es.Wrap(es.CodeInternal, "visio.save", err)
	}
	return recs, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*Visio, error) {
	events, err := r.events.Load(ctx, id)
	if err != nil {
		if errors.Is(err, es.ErrNotFound) {
			return nil, es.NotFound("visio.find", fmt.Errorf("%w: %s", ErrVisioNotFound, id))
		}
		return nil, es.Wrap(es.CodeInternal, "visio.find", err)
	}
	return Reconstruct(id, events)
}

func (r *Repository) Codec() *es.Codec[Event] {
	return r.events.Codec()
}
