package appointment

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/es/estest"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

type rejection struct {
	command string
	err     error
}

type recordingEmitter struct {
	telemetry.Nop
	rejected []rejection
}

func (e *recordingEmitter) CommandRejected(_ context.Context, _, command, _ string, err error) {
	e.rejected = append(e.rejected, rejection{command: command, err: err})
}

type harness struct {
	store     *es.MemoryStore
	repo      *Repository
	publisher *estest.RecordingPublisher
	emitter   *recordingEmitter
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     es.NewMemoryStore(),
		publisher: &estest.RecordingPublisher{},
		emitter:   &recordingEmitter{},
	}
	h.repo = NewRepository(h.store)
	h.svc = NewService(h.repo, es.NewCommitter(h.publisher, nil), h.emitter, logger.NewNop())
	return h
}

func TestServiceLifecyclePublishesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.svc.Create(ctx, sampleDetails())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Confirm(ctx, a.ID()); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	done, err := h.svc.Complete(ctx, a.ID())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Version() != 3 || len(done.Uncommitted()) != 0 {
		t.Fatalf("version=%d pending=%d", done.Version(), len(done.Uncommitted()))
	}

	recs := h.publisher.Records()
	want := []string{EventCreated, EventConfirmed, EventCompleted}
	if got := h.publisher.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i, r := range recs {
		if r.AggregateID != a.ID() || r.Version != i+1 {
			t.Fatalf("record %d: aggregate=%s version=%d", i, r.AggregateID, r.Version)
		}
	}

	loaded, err := h.svc.Get(ctx, a.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.State() != done.State() {
		t.Fatalf("loaded %+v, want %+v", loaded.State(), done.State())
	}
}

func TestServiceRejectsCancelAfterCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.svc.Create(ctx, sampleDetails())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Confirm(ctx, a.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Complete(ctx, a.ID()); err != nil {
		t.Fatal(err)
	}

	_, err = h.svc.Cancel(ctx, a.ID(), "too late")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if len(h.emitter.rejected) != 1 || h.emitter.rejected[0].command != "cancel" {
		t.Fatalf("rejections = %+v", h.emitter.rejected)
	}

	recs, err := h.store.Load(ctx, a.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("stored %d events, want 3", len(recs))
	}
}

func TestServiceUnknownAppointment(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Confirm(context.Background(), "nope")
	if !errors.Is(err, ErrAppointmentNotFound) || !es.IsCode(err, es.CodeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestConcurrentWritersConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.svc.Create(ctx, sampleDetails())
	if err != nil {
		t.Fatal(err)
	}

	first, err := h.repo.FindByID(ctx, a.ID())
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.repo.FindByID(ctx, a.ID())
	if err != nil {
		t.Fatal(err)
	}

	if err := first.Confirm(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.repo.Save(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	if err := second.Cancel("race"); err != nil {
		t.Fatal(err)
	}
	_, err = h.repo.Save(ctx, second)
	if !errors.Is(err, es.ErrVersionConflict) || !es.IsCode(err, es.CodeConflict) {
		t.Fatalf("err = %v, want version conflict", err)
	}
}

func TestPublishFailureSurfacesAfterAppend(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.publisher.Err = errors.New("broker unavailable")

	_, err := h.svc.Create(ctx, sampleDetails())
	if !es.IsCode(err, es.CodeTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
}
