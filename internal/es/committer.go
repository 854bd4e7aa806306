package es

import (
	"context"
	"sync"
)

// Publisher sends committed records to the outbound channel. A failure is
// returned to the command caller; there is no retry.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// Committer hands freshly stored records to in-process listeners and to
// the outbound publisher.
type Committer struct {
	publisher  Publisher
	dispatcher *Dispatcher
	locks      keyedMutex
}

func NewCommitter(publisher Publisher, dispatcher *Dispatcher) *Committer {
	return &Committer{publisher: publisher, dispatcher: dispatcher}
}

// Lock serializes writers of one aggregate inside this process. Holding
// it from append through Commit keeps dispatch and publish in version
// order for that aggregate. The returned func releases it.
func (c *Committer) Lock(aggregateID string) func() {
	return c.locks.lock(aggregateID)
}

// Commit runs after a successful append. The records are already durable,
// so listeners receive them even if publishing fails.
func (c *Committer) Commit(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if c.dispatcher != nil {
		c.dispatcher.Dispatch(records)
	}
	if c.publisher == nil {
		return nil
	}
	if err := c.publisher.Publish(ctx, records); err != nil {
		return Transport("publish events", err)
	}
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
