package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

const dateLayout = "Mon 02 Jan 2006 15:04 MST"

// CreationSaga books the doctor's calendar and notifies both parties when
// an appointment is created. If a notification fails after the calendar
// booking, the booking is removed.
type CreationSaga struct {
	deps *Deps
}

func NewCreationSaga(deps *Deps) *CreationSaga {
	return &CreationSaga{deps: deps}
}

func (s *CreationSaga) Handle(ctx context.Context, e appointment.Created) telemetry.SagaOutcome {
	return Run(ctx, s.deps, "appointment_creation", e.AggregateID(), func(ctx context.Context, sc *Scope) error {
		var patient, doctor Contact
		err := sc.Step(ctx, "fetch_contacts", func(ctx context.Context) error {
			var err error
			patient, doctor, err = s.deps.fetchPair(ctx, e.PatientID, e.DoctorID)
			return err
		})
		if err != nil {
			return err
		}

		entry := CalendarEntry{
			ID:          e.AggregateID(),
			Title:       e.Title,
			Start:       e.StartDate,
			End:         e.EndDate,
			PatientName: patient.Name,
		}
		err = sc.Compensable(ctx, "calendar_add",
			func(ctx context.Context) error { return s.deps.Calendar.AddEvent(ctx, e.DoctorID, entry) },
			func(ctx context.Context) error { return s.deps.Calendar.RemoveEvent(ctx, e.DoctorID, entry.ID) },
		)
		if err != nil {
			return err
		}

		when := e.StartDate.Format(dateLayout)
		if err := sc.Step(ctx, "email_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, patient.Email, "Appointment scheduled",
				fmt.Sprintf("Hello %s, your appointment %q with Dr %s is scheduled for %s.", patient.Name, e.Title, doctor.Name, when))
		}); err != nil {
			return err
		}
		return sc.Step(ctx, "email_doctor", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, doctor.Email, "New appointment",
				fmt.Sprintf("Dr %s, %s booked %q for %s.", doctor.Name, patient.Name, e.Title, when))
		})
	})
}

// ConfirmationSaga refreshes the calendar entry and tells the patient.
type ConfirmationSaga struct {
	deps *Deps
}

func NewConfirmationSaga(deps *Deps) *ConfirmationSaga {
	return &ConfirmationSaga{deps: deps}
}

func (s *ConfirmationSaga) Handle(ctx context.Context, e appointment.Confirmed) telemetry.SagaOutcome {
	return Run(ctx, s.deps, "appointment_confirmation", e.AggregateID(), func(ctx context.Context, sc *Scope) error {
		st, patient, _, err := s.deps.loadAppointment(ctx, sc, e.AggregateID())
		if err != nil {
			return err
		}

		entry := CalendarEntry{ID: st.ID, Title: st.Title, Start: st.StartDate, End: st.EndDate, PatientName: patient.Name}
		if err := sc.Step(ctx, "calendar_update", func(ctx context.Context) error {
			return s.deps.Calendar.UpdateEvent(ctx, st.DoctorID, entry)
		}); err != nil {
			return err
		}

		when := st.StartDate.Format(dateLayout)
		if err := sc.Step(ctx, "email_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, patient.Email, "Appointment confirmed",
				fmt.Sprintf("Hello %s, your appointment %q on %s is confirmed.", patient.Name, st.Title, when))
		}); err != nil {
			return err
		}
		if patient.Phone == "" {
			return nil
		}
		return sc.Step(ctx, "sms_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendSMS(ctx, patient.Phone, fmt.Sprintf("Appointment confirmed: %s, %s", st.Title, when))
		})
	})
}

// CancellationSaga frees the calendar slot and notifies both parties.
type CancellationSaga struct {
	deps *Deps
}

func NewCancellationSaga(deps *Deps) *CancellationSaga {
	return &CancellationSaga{deps: deps}
}

func (s *CancellationSaga) Handle(ctx context.Context, e appointment.Cancelled) telemetry.SagaOutcome {
	return Run(ctx, s.deps, "appointment_cancellation", e.AggregateID(), func(ctx context.Context, sc *Scope) error {
		st, patient, doctor, err := s.deps.loadAppointment(ctx, sc, e.AggregateID())
		if err != nil {
			return err
		}

		if err := sc.Step(ctx, "calendar_remove", func(ctx context.Context) error {
			return s.deps.Calendar.RemoveEvent(ctx, st.DoctorID, st.ID)
		}); err != nil {
			return err
		}

		reason := ""
		if e.Reason != "" {
			reason = " Reason: " + e.Reason + "."
		}
		when := st.StartDate.Format(dateLayout)
		if err := sc.Step(ctx, "email_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, patient.Email, "Appointment cancelled",
				fmt.Sprintf("Hello %s, your appointment %q on %s was cancelled.%s", patient.Name, st.Title, when, reason))
		}); err != nil {
			return err
		}
		return sc.Step(ctx, "email_doctor", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, doctor.Email, "Appointment cancelled",
				fmt.Sprintf("Dr %s, the appointment with %s on %s was cancelled.%s", doctor.Name, patient.Name, when, reason))
		})
	})
}

// ReminderSaga sends the day-before reminder for a confirmed appointment.
type ReminderSaga struct {
	deps *Deps
}

func NewReminderSaga(deps *Deps) *ReminderSaga {
	return &ReminderSaga{deps: deps}
}

func (s *ReminderSaga) Send(ctx context.Context, v appointment.View) telemetry.SagaOutcome {
	return Run(ctx, s.deps, "appointment_reminder", v.AppointmentID, func(ctx context.Context, sc *Scope) error {
		var patient Contact
		if err := sc.Step(ctx, "fetch_patient", func(ctx context.Context) error {
			c, err := s.deps.Patients.GetPatientByID(ctx, v.PatientID)
			patient = c
			return err
		}); err != nil {
			return err
		}

		when := v.StartDate.Format(dateLayout)
		if err := sc.Step(ctx, "email_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, patient.Email, "Appointment reminder",
				fmt.Sprintf("Hello %s, this is a reminder of your appointment %q on %s.", patient.Name, v.Title, when))
		}); err != nil {
			return err
		}
		if patient.Phone == "" {
			return nil
		}
		return sc.Step(ctx, "sms_patient", func(ctx context.Context) error {
			return s.deps.Notifier.SendSMS(ctx, patient.Phone, fmt.Sprintf("Reminder: %s, %s", v.Title, when))
		})
	})
}

func (d *Deps) loadAppointment(ctx context.Context, sc *Scope, id string) (appointment.State, Contact, Contact, error) {
	var (
		st              appointment.State
		patient, doctor Contact
	)
	err := sc.Step(ctx, "load_appointment", func(ctx context.Context) error {
		a, err := d.Appointments.FindByID(ctx, id)
		if err != nil {
			return err
		}
		st = a.State()
		return nil
	})
	if err != nil {
		return st, patient, doctor, err
	}
	err = sc.Step(ctx, "fetch_contacts", func(ctx context.Context) error {
		var err error
		patient, doctor, err = d.fetchPair(ctx, st.PatientID, st.DoctorID)
		return err
	})
	return st, patient, doctor, err
}

// ReminderWindow returns the [from, to) range of start times due for a
// reminder at "at", given the lead time and the polling interval.
func ReminderWindow(at time.Time, lead, interval time.Duration) (time.Time, time.Time) {
	from := at.Add(lead)
	return from, from.Add(interval)
}

// ReminderCursor hands out contiguous scan windows. Each window starts
// where the last advanced one ended, so a slow run or a late tick leaves
// no start time unscanned. Overlap is possible after a restart; callers
// claim each appointment once.
type ReminderCursor struct {
	lead     time.Duration
	interval time.Duration
	next     time.Time
}

func NewReminderCursor(lead, interval time.Duration) *ReminderCursor {
	return &ReminderCursor{lead: lead, interval: interval}
}

// Window returns the range to scan at "at". It does not move the cursor.
func (c *ReminderCursor) Window(at time.Time) (time.Time, time.Time) {
	from, to := ReminderWindow(at, c.lead, c.interval)
	if !c.next.IsZero() {
		from = c.next
	}
	if to.Before(from) {
		to = from
	}
	return from, to
}

// Advance records that every start before to has been scanned.
func (c *ReminderCursor) Advance(to time.Time) {
	if to.After(c.next) {
		c.next = to
	}
}
