package es

import (
	"context"
	"fmt"
	"sort"
)

// Repository persists and loads one aggregate type's events through a
// Store, translating between typed events and records.
type Repository[E Event] struct {
	store Store
	codec *Codec[E]
}

func NewRepository[E Event](store Store, codec *Codec[E]) *Repository[E] {
	return &Repository[E]{store: store, codec: codec}
}

// Save appends agg's uncommitted events at the version the aggregate was
// loaded with. It does not commit the aggregate; callers do that once the
// events have been handed on.
func (r *Repository[E]) Save(ctx context.Context, agg Aggregate[E]) ([]Record, error) {
	pending := agg.Uncommitted()
	if len(pending) == 0 {
		return nil, nil
	}

	expected := agg.Version() - len(pending)
	records := make([]Record, 0, len(pending))
	for i, e := range pending {
		rec, err := r.codec.Encode(expected+i+1, e)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := r.store.Append(ctx, agg.ID(), expected, records); err != nil {
		return nil, fmt.Errorf("append %s %s: %w", r.codec.AggregateType(), agg.ID(), err)
	}
	return records, nil
}

// Load returns the aggregate's events in ascending version order, or
// ErrNotFound when it has none or the id belongs to another aggregate type.
func (r *Repository[E]) Load(ctx context.Context, aggregateID string) ([]E, error) {
	records, err := r.Records(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Version < records[j].Version })

	events := make([]E, 0, len(records))
	for _, rec := range records {
		e, err := r.codec.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("load %s %s v%d: %w", r.codec.AggregateType(), aggregateID, rec.Version, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Records returns the raw stored records, for projections that need
// versions alongside payloads.
func (r *Repository[E]) Records(ctx context.Context, aggregateID string) ([]Record, error) {
	records, err := r.store.Load(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", r.codec.AggregateType(), aggregateID, err)
	}
	if len(records) == 0 || records[0].AggregateType != r.codec.AggregateType() {
		return nil, ErrNotFound
	}
	return records, nil
}

func (r *Repository[E]) Codec() *Codec[E] {
	return r.codec
}
