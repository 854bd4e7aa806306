// Package saga runs the side effects that follow committed events:
// calendar bookings, emails and SMS. Failures stay inside the saga; they
// are compensated where possible, logged and reported, never returned to
// the command that produced the event.
package saga

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

// Contact is what the directories return for a patient or doctor.
type Contact struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type PatientDirectory interface {
	GetPatientByID(ctx context.Context, id string) (Contact, error)
}

type DoctorDirectory interface {
	GetDoctorByID(ctx context.Context, id string) (Contact, error)
}

type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, message string) error
}

type CalendarEntry struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	PatientName string
}

type Calendar interface {
	AddEvent(ctx context.Context, ownerID string, entry CalendarEntry) error
	RemoveEvent(ctx context.Context, ownerID, entryID string) error
	UpdateEvent(ctx context.Context, ownerID string, entry CalendarEntry) error
}

type AppointmentLoader interface {
	FindByID(ctx context.Context, id string) (*appointment.Appointment, error)
}

type VisioLoader interface {
	FindByID(ctx context.Context, id string) (*visio.Visio, error)
}

// Deduper claims an event id once so redelivered records do not rerun a
// saga. Claim returns false when the key was already taken.
type Deduper interface {
	Claim(ctx context.Context, scope, key string) (bool, error)
}

// RetryPolicy bounds retries of a single external call.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
	}
}

// Deps lists every capability the sagas may call. Sagas take the whole
// struct; fields a saga does not use may be nil.
type Deps struct {
	Notifier     Notifier
	Calendar     Calendar
	Patients     PatientDirectory
	Doctors      DoctorDirectory
	Appointments AppointmentLoader
	Visios       VisioLoader
	Emitter      telemetry.Emitter
	Log          *logger.Logger
	Retry        RetryPolicy
	JoinURL      string
}

// fetchPair loads the patient and the doctor concurrently.
func (d *Deps) fetchPair(ctx context.Context, patientID, doctorID string) (patient, doctor Contact, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := d.Patients.GetPatientByID(gctx, patientID)
		if err != nil {
			return fmt.Errorf("patient %s: %w", patientID, err)
		}
		patient = c
		return nil
	})
	g.Go(func() error {
		c, err := d.Doctors.GetDoctorByID(gctx, doctorID)
		if err != nil {
			return fmt.Errorf("doctor %s: %w", doctorID, err)
		}
		doctor = c
		return nil
	})
	err = g.Wait()
	return patient, doctor, err
}
