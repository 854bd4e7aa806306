package es

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Codec maps event type names to concrete event types for one aggregate
// type. Only registered types can be decoded, which keeps the set of
// variants closed.
type Codec[E Event] struct {
	aggregateType string
	decoders      map[string]func(json.RawMessage) (E, error)
}

func NewCodec[E Event](aggregateType string) *Codec[E] {
	return &Codec[E]{
		aggregateType: aggregateType,
		decoders:      make(map[string]func(json.RawMessage) (E, error)),
	}
}

// Register binds eventType to T. T must implement E; registration panics
// otherwise since it is a wiring mistake.
func Register[E Event, T any](c *Codec[E], eventType string) {
	var zero T
	if _, ok := any(zero).(E); !ok {
		panic(fmt.Sprintf("es: %T does not implement the %s event interface", zero, c.aggregateType))
	}
	c.decoders[eventType] = func(raw json.RawMessage) (E, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			var none E
			return none, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return any(v).(E), nil
	}
}

func (c *Codec[E]) AggregateType() string {
	return c.aggregateType
}

// EventTypes lists the registered names in lexical order.
func (c *Codec[E]) EventTypes() []string {
	out := make([]string, 0, len(c.decoders))
	for name := range c.decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Codec[E]) Encode(version int, e E) (Record, error) {
	if _, ok := c.decoders[e.EventType()]; !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownEvent, e.EventType())
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return Record{
		EventID:       uuid.NewString(),
		AggregateID:   e.AggregateID(),
		AggregateType: c.aggregateType,
		Version:       version,
		EventType:     e.EventType(),
		OccurredOn:    e.OccurredOn(),
		Payload:       payload,
	}, nil
}

func (c *Codec[E]) Decode(r Record) (E, error) {
	dec, ok := c.decoders[r.EventType]
	if !ok {
		var none E
		return none, fmt.Errorf("%w: %s", ErrUnknownEvent, r.EventType)
	}
	return dec(r.Payload)
}

// Handles reports whether the record belongs to this codec's aggregate.
func (c *Codec[E]) Handles(r Record) bool {
	_, ok := c.decoders[r.EventType]
	return ok && r.AggregateType == c.aggregateType
}
