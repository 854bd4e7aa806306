package es

// Aggregate is what a Repository needs to persist pending events.
type Aggregate[E Event] interface {
	ID() string
	Version() int
	Uncommitted() []E
	Commit()
}

// Stream tracks an aggregate's version and the events applied since the
// last commit. The zero value is an empty stream at version 0.
type Stream[E Event] struct {
	version int
	pending []E
}

// Record counts a newly applied event and buffers it for persistence.
func (s *Stream[E]) Record(e E) {
	s.pending = append(s.pending, e)
	s.version++
}

// Restore sets the version reached by replaying stored events.
func (s *Stream[E]) Restore(version int) {
	s.version = version
	s.pending = nil
}

func (s *Stream[E]) Version() int {
	return s.version
}

// ExpectedVersion is the stored version the pending events build on.
func (s *Stream[E]) ExpectedVersion() int {
	return s.version - len(s.pending)
}

// Uncommitted returns a copy of the pending events.
func (s *Stream[E]) Uncommitted() []E {
	out := make([]E, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *Stream[E]) Commit() {
	s.pending = nil
}
