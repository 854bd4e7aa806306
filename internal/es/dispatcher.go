package es

import (
	"context"
	"fmt"
	"sync"

	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

// Handler reacts to one committed record. Errors are logged by the
// dispatcher and never reach the command that produced the record.
type Handler func(ctx context.Context, rec Record) error

type Delivery int

const (
	// Ordered handlers see records one at a time in dispatch order.
	Ordered Delivery = iota
	// Concurrent handlers get a goroutine per record.
	Concurrent
)

const orderedQueueSize = 256

type subscription struct {
	name     string
	delivery Delivery
	handler  Handler
	queue    chan Record
}

// Dispatcher fans committed records out to in-process listeners
// (projections, sagas) after the command that produced them returns.
type Dispatcher struct {
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   []*subscription
	closed bool

	inflight sync.WaitGroup
	workers  sync.WaitGroup
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:    log.With("component", "dispatcher"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (d *Dispatcher) Subscribe(name string, delivery Delivery, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := &subscription{name: name, delivery: delivery, handler: h}
	if delivery == Ordered {
		sub.queue = make(chan Record, orderedQueueSize)
		d.workers.Add(1)
		go d.drain(sub)
	}
	d.subs = append(d.subs, sub)
}

// Dispatch hands records to every subscriber. Records dispatched after
// Close are dropped.
func (d *Dispatcher) Dispatch(records []Record) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("dispatch after close", "records", len(records))
		return
	}

	for _, sub := range d.subs {
		for _, rec := range records {
			d.inflight.Add(1)
			switch sub.delivery {
			case Ordered:
				sub.queue <- rec
			default:
				go func(sub *subscription, rec Record) {
					defer d.inflight.Done()
					d.handle(sub, rec)
				}(sub, rec)
			}
		}
	}
}

// Wait blocks until every dispatched record has been handled.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Close stops accepting records and waits for in-flight handlers until ctx
// expires, then cancels the handlers' context.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, sub := range d.subs {
			if sub.queue != nil {
				close(sub.queue)
			}
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

func (d *Dispatcher) drain(sub *subscription) {
	defer d.workers.Done()
	for rec := range sub.queue {
		d.handle(sub, rec)
		d.inflight.Done()
	}
}

func (d *Dispatcher) handle(sub *subscription, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("listener panicked",
				"listener", sub.name,
				"event_type", rec.EventType,
				"aggregate_id", rec.AggregateID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := sub.handler(d.ctx, rec); err != nil {
		d.log.Error("listener failed",
			"listener", sub.name,
			"event_type", rec.EventType,
			"aggregate_id", rec.AggregateID,
			"version", rec.Version,
			"error", err,
		)
	}
}
