package visio

import (
	"context"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

// Projector replays the visio behind each record into the read store.
type Projector struct {
	repo  *Repository
	store ReadStore
	log   *logger.Logger
}

func NewProjector(repo *Repository, store ReadStore, log *logger.Logger) *Projector {
	return &Projector{repo: repo, store: store, log: log.With("component", "visio_projector")}
}

func (p *Projector) Handle(ctx context.Context, rec es.Record) error {
	if !p.repo.Codec().Handles(rec) {
		return nil
	}
	return p.Rebuild(ctx, rec.AggregateID)
}

func (p *Projector) Rebuild(ctx context.Context, id string) error {
	v, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	view := NewView(v)
	if err := p.store.Upsert(ctx, view); err != nil {
		return err
	}
	p.log.Debug("visio view projected", "visio_id", id, "version", view.Version, "status", string(view.Status))
	return nil
}
