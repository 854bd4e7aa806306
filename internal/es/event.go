// Package es holds the event-sourcing building blocks shared by the
// appointment and visio aggregates: event envelopes, the uncommitted
// stream buffer, replay, the store contract and the in-process dispatcher.
package es

import (
	"encoding/json"
	"time"
)

// Event is an immutable fact about one aggregate.
type Event interface {
	AggregateID() string
	EventType() string
	OccurredOn() time.Time
}

// Base carries the fields every event shares. Embed it in concrete events.
type Base struct {
	ID string    `json:"aggregateId"`
	At time.Time `json:"occurredOn"`
}

func NewBase(aggregateID string, at time.Time) Base {
	return Base{ID: aggregateID, At: at.UTC()}
}

func (b Base) AggregateID() string   { return b.ID }
func (b Base) OccurredOn() time.Time { return b.At }

// Record is the persisted and published form of an event. Version is
// assigned at append time and increases by one per aggregate.
type Record struct {
	EventID       string            `json:"eventId"`
	AggregateID   string            `json:"aggregateId"`
	AggregateType string            `json:"aggregateType"`
	Version       int               `json:"version"`
	EventType     string            `json:"eventType"`
	OccurredOn    time.Time         `json:"occurredOn"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
