package appointment

import (
	"context"
	"fmt"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

// Projector keeps the read store in step with the event log. Each record
// triggers a full replay of its aggregate so redelivered or skipped
// records still converge on the stored state.
type Projector struct {
	repo  *Repository
	store ReadStore
	log   *logger.Logger
}

func NewProjector(repo *Repository, store ReadStore, log *logger.Logger) *Projector {
	return &Projector{repo: repo, store: store, log: log.With("component", "appointment_projector")}
}

// Handle is an es.Handler.
func (p *Projector) Handle(ctx context.Context, rec es.Record) error {
	if !p.repo.Codec().Handles(rec) {
		return nil
	}
	return p.Rebuild(ctx, rec.AggregateID)
}

// Rebuild replays one appointment and overwrites its view.
func (p *Projector) Rebuild(ctx context.Context, id string) error {
	recs, err := p.repo.Records(ctx, id)
	if err != nil {
		return err
	}

	codec := p.repo.Codec()
	events := make([]Event, 0, len(recs))
	for _, r := range recs {
		e, err := codec.Decode(r)
		if err != nil {
			return fmt.Errorf("project appointment %s: %w", id, err)
		}
		events = append(events, e)
	}

	a, err := Reconstruct(id, events)
	if err != nil {
		return err
	}
	view, err := NewView(a.State(), a.Version(), recs)
	if err != nil {
		return err
	}
	if err := p.store.Upsert(ctx, view); err != nil {
		return err
	}
	p.log.Debug("appointment view projected", "appointment_id", id, "version", a.Version(), "status", view.Status)
	return nil
}
