package saga

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/es/estest"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

type sentMessage struct {
	kind, to, subject, body string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	attempts int
	// failEmail decides per attempt (1-based) whether an email fails.
	failEmail func(attempt int, to string) error
}

func (n *fakeNotifier) SendEmail(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failEmail != nil {
		if err := n.failEmail(n.attempts, to); err != nil {
			return err
		}
	}
	n.sent = append(n.sent, sentMessage{kind: "email", to: to, subject: subject, body: body})
	return nil
}

func (n *fakeNotifier) SendSMS(_ context.Context, to, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{kind: "sms", to: to, body: message})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type fakeCalendar struct {
	mu      sync.Mutex
	calls   []string
	entries map[string]CalendarEntry
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{entries: map[string]CalendarEntry{}}
}

func (c *fakeCalendar) AddEvent(_ context.Context, owner string, e CalendarEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "add:"+owner+":"+e.ID)
	c.entries[e.ID] = e
	return nil
}

func (c *fakeCalendar) RemoveEvent(_ context.Context, owner, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "remove:"+owner+":"+id)
	delete(c.entries, id)
	return nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, owner string, e CalendarEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "update:"+owner+":"+e.ID)
	c.entries[e.ID] = e
	return nil
}

func (c *fakeCalendar) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

type fakeDirectory map[string]Contact

var errUnknownContact = errors.New("unknown contact")

func (d fakeDirectory) GetPatientByID(_ context.Context, id string) (Contact, error) {
	if c, ok := d[id]; ok {
		return c, nil
	}
	return Contact{}, fmt.Errorf("%w: %s", errUnknownContact, id)
}

func (d fakeDirectory) GetDoctorByID(ctx context.Context, id string) (Contact, error) {
	return d.GetPatientByID(ctx, id)
}

type outcomeRecorder struct {
	telemetry.Nop
	mu            sync.Mutex
	outcomes      []telemetry.SagaOutcome
	compensations int
}

func (r *outcomeRecorder) SagaFinished(_ context.Context, o telemetry.SagaOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) CompensationTriggered(context.Context, string, string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations++
}

type testEnv struct {
	deps     *Deps
	notifier *fakeNotifier
	calendar *fakeCalendar
	emitter  *outcomeRecorder
}

func newEnv() *testEnv {
	dir := fakeDirectory{
		"p1": {ID: "p1", Name: "Ada", Email: "ada@example.com", Phone: "+33100000000"},
		"d1": {ID: "d1", Name: "Grey", Email: "grey@example.com"},
	}
	env := &testEnv{notifier: &fakeNotifier{}, calendar: newFakeCalendar(), emitter: &outcomeRecorder{}}
	env.deps = &Deps{
		Notifier: env.notifier,
		Calendar: env.calendar,
		Patients: dir,
		Doctors:  dir,
		Emitter:  env.emitter,
		Log:      logger.NewNop(),
		Retry:    RetryPolicy{MaxTries: 1},
	}
	return env
}

func createdEvent() appointment.Created {
	start := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	return appointment.Created{
		Base:      es.NewBase("appt-1", start.Add(-48*time.Hour)),
		Title:     "Consultation",
		StartDate: start,
		EndDate:   start.Add(30 * time.Minute),
		PatientID: "p1",
		DoctorID:  "d1",
	}
}

func TestCreationSagaSucceeds(t *testing.T) {
	env := newEnv()
	out := NewCreationSaga(env.deps).Handle(context.Background(), createdEvent())

	if out.Status != telemetry.SagaSucceeded || out.Err != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if env.calendar.count("add:d1:appt-1") != 1 || env.calendar.count("remove") != 0 {
		t.Fatalf("calendar calls = %v", env.calendar.calls)
	}
	msgs := env.notifier.messages()
	if len(msgs) != 2 || msgs[0].to != "ada@example.com" || msgs[1].to != "grey@example.com" {
		t.Fatalf("messages = %+v", msgs)
	}
	if env.calendar.entries["appt-1"].PatientName != "Ada" {
		t.Fatalf("entry = %+v", env.calendar.entries["appt-1"])
	}
}

func TestCreationSagaCompensatesOnce(t *testing.T) {
	env := newEnv()
	env.notifier.failEmail = func(_ int, to string) error {
		if to == "ada@example.com" {
			return errors.New("smtp down")
		}
		return nil
	}

	out := NewCreationSaga(env.deps).Handle(context.Background(), createdEvent())

	if out.Status != telemetry.SagaCompensated || out.FailedStep != "email_patient" || out.Compensations != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := env.calendar.count("remove:d1:appt-1"); got != 1 {
		t.Fatalf("remove called %d times, want 1", got)
	}
	if len(env.calendar.entries) != 0 {
		t.Fatalf("calendar still holds %v", env.calendar.entries)
	}
	if env.emitter.compensations != 1 || len(env.emitter.outcomes) != 1 {
		t.Fatalf("emitter = %+v", env.emitter)
	}
}

func TestCreationSagaFailsBeforeCommittingStep(t *testing.T) {
	env := newEnv()
	e := createdEvent()
	e.PatientID = "unknown"

	out := NewCreationSaga(env.deps).Handle(context.Background(), e)
	if out.Status != telemetry.SagaFailed || !errors.Is(out.Err, errUnknownContact) {
		t.Fatalf("outcome = %+v", out)
	}
	if len(env.calendar.calls) != 0 || env.emitter.compensations != 0 {
		t.Fatalf("unexpected side effects: %v", env.calendar.calls)
	}
}

func TestStepRetriesTransientFailures(t *testing.T) {
	env := newEnv()
	env.deps.Retry = RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	env.notifier.failEmail = func(attempt int, _ string) error {
		if attempt == 1 {
			return errors.New("temporary")
		}
		return nil
	}

	out := NewCreationSaga(env.deps).Handle(context.Background(), createdEvent())
	if out.Status != telemetry.SagaSucceeded {
		t.Fatalf("outcome = %+v", out)
	}
	if env.notifier.attempts != 3 {
		t.Fatalf("email attempts = %d, want 3", env.notifier.attempts)
	}
}

func TestCompensationsRunNewestFirst(t *testing.T) {
	env := newEnv()
	var order []string
	out := Run(context.Background(), env.deps, "ordering", "k", func(ctx context.Context, sc *Scope) error {
		for _, name := range []string{"first", "second"} {
			name := name
			if err := sc.Compensable(ctx, name,
				func(context.Context) error { return nil },
				func(context.Context) error { order = append(order, name); return nil },
			); err != nil {
				return err
			}
		}
		return sc.Step(ctx, "third", func(context.Context) error { return errors.New("boom") })
	})

	if out.Status != telemetry.SagaCompensated || out.FailedStep != "third" {
		t.Fatalf("outcome = %+v", out)
	}
	if want := []string{"second", "first"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	env := newEnv()
	out := Run(context.Background(), env.deps, "panicky", "k", func(context.Context, *Scope) error {
		panic("unexpected")
	})
	if out.Status != telemetry.SagaFailed || out.Err == nil {
		t.Fatalf("outcome = %+v", out)
	}
}

type onceDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *onceDeduper) Claim(_ context.Context, scope, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := scope + ":" + key
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func TestRegisteredSagasReactToCommands(t *testing.T) {
	ctx := context.Background()
	env := newEnv()

	store := es.NewMemoryStore()
	apptRepo := appointment.NewRepository(store)
	visioRepo := visio.NewRepository(store)
	env.deps.Appointments = apptRepo
	env.deps.Visios = visioRepo

	dispatcher := es.NewDispatcher(logger.NewNop())
	dedupe := &onceDeduper{seen: map[string]bool{}}
	Register(dispatcher, env.deps, dedupe)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	publisher := &estest.RecordingPublisher{}
	committer := es.NewCommitter(publisher, dispatcher)
	appts := appointment.NewService(apptRepo, committer, telemetry.Nop{}, logger.NewNop())
	visios := visio.NewService(visioRepo, committer, telemetry.Nop{}, logger.NewNop(), time.Hour)

	start := time.Now().Add(72 * time.Hour)
	a, err := appts.Create(ctx, appointment.Details{Title: "Follow-up", StartDate: start, EndDate: start.Add(time.Hour), PatientID: "p1", DoctorID: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	dispatcher.Wait()
	if _, err := appts.Confirm(ctx, a.ID()); err != nil {
		t.Fatal(err)
	}
	dispatcher.Wait()
	if _, err := appts.Cancel(ctx, a.ID(), "travel"); err != nil {
		t.Fatal(err)
	}
	dispatcher.Wait()

	if env.calendar.count("add:d1:"+a.ID()) != 1 ||
		env.calendar.count("update:d1:"+a.ID()) != 1 ||
		env.calendar.count("remove:d1:"+a.ID()) != 1 {
		t.Fatalf("calendar calls = %v", env.calendar.calls)
	}

	// Redelivery of the same records must not rerun the sagas.
	dispatcher.Dispatch(publisher.Records())
	dispatcher.Wait()
	if env.calendar.count("add:") != 1 {
		t.Fatalf("saga ran twice: %v", env.calendar.calls)
	}

	v, err := visios.Create(ctx, visio.DefaultConfiguration())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := visios.AddParticipant(ctx, v.ID(), visio.ParticipantSpec{ID: "p1", Type: visio.ParticipantExternal}); err != nil {
		t.Fatal(err)
	}
	dispatcher.Wait()

	var invite *sentMessage
	for _, m := range env.notifier.messages() {
		m := m
		if m.subject == "Your video consultation link" {
			invite = &m
		}
	}
	if invite == nil || invite.to != "ada@example.com" || !strings.Contains(invite.body, v.ID()) {
		t.Fatalf("invitation = %+v", invite)
	}
}

func TestReminderCursorLeavesNoGaps(t *testing.T) {
	lead, interval := 24*time.Hour, time.Minute
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewReminderCursor(lead, interval)

	from, to := c.Window(t0)
	if !from.Equal(t0.Add(lead)) || !to.Equal(t0.Add(lead+interval)) {
		t.Fatalf("first window = [%s, %s)", from, to)
	}
	c.Advance(to)

	tests := []struct {
		name string
		at   time.Time
	}{
		{"late tick", t0.Add(interval + 7*time.Second)},
		{"very late tick", t0.Add(5 * interval)},
		{"early tick", t0.Add(5*interval - 30*time.Second)},
	}
	prevEnd := to
	for _, tt := range tests {
		from, to := c.Window(tt.at)
		if !from.Equal(prevEnd) {
			t.Fatalf("%s: window starts at %s, previous ended at %s", tt.name, from, prevEnd)
		}
		if to.Before(from) {
			t.Fatalf("%s: window [%s, %s) is inverted", tt.name, from, to)
		}
		c.Advance(to)
		prevEnd = to
	}

	before, _ := c.Window(t0.Add(10 * interval))
	c.Advance(before.Add(-time.Hour))
	if again, _ := c.Window(t0.Add(10 * interval)); !again.Equal(before) {
		t.Fatalf("advancing backwards moved the cursor to %s", again)
	}
}
