// Package estest has test doubles for the es package contracts.
package estest

import (
	"context"
	"sync"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

// RecordingPublisher keeps every published record. Set Err to make
// Publish fail. Before, when set, runs ahead of each call outside the
// recorder's lock, so a test can hold a publish back.
type RecordingPublisher struct {
	mu      sync.Mutex
	records []es.Record
	Err     error
	Before  func(records []es.Record)
}

func (p *RecordingPublisher) Publish(_ context.Context, records []es.Record) error {
	if p.Before != nil {
		p.Before(records)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.records = append(p.records, records...)
	return nil
}

func (p *RecordingPublisher) Records() []es.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]es.Record, len(p.records))
	copy(out, p.records)
	return out
}

// Types returns the published event types in order.
func (p *RecordingPublisher) Types() []string {
	recs := p.Records()
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.EventType
	}
	return out
}
