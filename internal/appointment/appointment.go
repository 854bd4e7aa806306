package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidAppointment  = errors.New("invalid appointment")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// now is swapped in tests.
var now = time.Now

// State is everything replay derives from an appointment's events.
type State struct {
	ID                 string
	Title              string
	Description        string
	StartDate          time.Time
	EndDate            time.Time
	PatientID          string
	DoctorID           string
	Status             Status
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Fold applies one event to the state.
func Fold(s State, e Event) State {
	switch ev := e.(type) {
	case Created:
		s.ID = ev.ID
		s.Title = ev.Title
		s.Description = ev.Description
		s.StartDate = ev.StartDate
		s.EndDate = ev.EndDate
		s.PatientID = ev.PatientID
		s.DoctorID = ev.DoctorID
		s.Status = StatusScheduled
		s.CreatedAt = ev.At
	case Confirmed:
		s.Status = StatusConfirmed
	case Cancelled:
		s.Status = StatusCancelled
		s.CancellationReason = ev.Reason
	case Completed:
		s.Status = StatusCompleted
	default:
		panic(fmt.Sprintf("appointment: unhandled event %T", e))
	}
	s.UpdatedAt = e.OccurredOn()
	return s
}

// Appointment is the write-side aggregate.
type Appointment struct {
	state  State
	stream es.Stream[Event]
}

type Details struct {
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	PatientID   string
	DoctorID    string
}

func (d Details) validate() error {
	var problems []string
	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(d.PatientID) == "" {
		problems = append(problems, "patient id is required")
	}
	if strings.TrimSpace(d.DoctorID) == "" {
		problems = append(problems, "doctor id is required")
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		problems = append(problems, "start and end dates are required")
	} else if !d.EndDate.After(d.StartDate) {
		problems = append(problems, "end date must be after start date")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAppointment, strings.Join(problems, "; "))
	}
	return nil
}

// Create schedules a new appointment and records AppointmentCreated.
func Create(d Details) (*Appointment, error) {
	if err := d.validate(); err != nil {
		return nil, es.Validation("appointment.create", err)
	}

	a := &Appointment{}
	a.apply(Created{
		Base:        es.NewBase(uuid.NewString(), now()),
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		StartDate:   d.StartDate.UTC(),
		EndDate:     d.EndDate.UTC(),
		PatientID:   d.PatientID,
		DoctorID:    d.DoctorID,
	})
	return a, nil
}

// Reconstruct rebuilds an appointment from its stored events.
func Reconstruct(id string, events []Event) (*Appointment, error) {
	if len(events) == 0 {
		return nil, es.NotFound("appointment.reconstruct", fmt.Errorf("%w: %s", ErrAppointmentNotFound, id))
	}
	for _, e := range events {
		if e.AggregateID() != id {
			return nil, fmt.Errorf("appointment.reconstruct: event %s belongs to %s, not %s", e.EventType(), e.AggregateID(), id)
		}
	}

	a := &Appointment{}
	a.state = es.Replay(State{}, events, Fold)
	a.stream.Restore(len(events))
	return a, nil
}

func (a *Appointment) Confirm() error {
	if err := a.transition("confirm", StatusConfirmed); err != nil {
		return err
	}
	a.apply(Confirmed{Base: es.NewBase(a.state.ID, now())})
	return nil
}

func (a *Appointment) Cancel(reason string) error {
	if err := a.transition("cancel", StatusCancelled); err != nil {
		return err
	}
	a.apply(Cancelled{Base: es.NewBase(a.state.ID, now()), Reason: strings.TrimSpace(reason)})
	return nil
}

func (a *Appointment) Complete() error {
	if err := a.transition("complete", StatusCompleted); err != nil {
		return err
	}
	a.apply(Completed{Base: es.NewBase(a.state.ID, now())})
	return nil
}

func (a *Appointment) transition(command string, next Status) error {
	if a.state.Status.CanTransitionTo(next) {
		return nil
	}
	return es.Validation("appointment."+command,
		fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidTransition, command, a.state.Status))
}

func (a *Appointment) apply(e Event) {
	a.state = Fold(a.state, e)
	a.stream.Record(e)
}

func (a *Appointment) ID() string           { return a.state.ID }
func (a *Appointment) Status() Status       { return a.state.Status }
func (a *Appointment) State() State         { return a.state }
func (a *Appointment) Version() int         { return a.stream.Version() }
func (a *Appointment) Uncommitted() []Event { return a.stream.Uncommitted() }
func (a *Appointment) Commit()              { a.stream.Commit() }
