package appointment

import (
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

const AggregateType = "Appointment"

const (
	EventCreated   = "AppointmentCreated"
	EventConfirmed = "AppointmentConfirmed"
	EventCancelled = "AppointmentCancelled"
	EventCompleted = "AppointmentCompleted"
)

// Event is the closed set of appointment events. Only types in this
// package implement it.
type Event interface {
	es.Event
	isAppointmentEvent()
}

type Created struct {
	es.Base
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	PatientID   string    `json:"patientId"`
	DoctorID    string    `json:"doctorId"`
}

type Confirmed struct {
	es.Base
}

type Cancelled struct {
	es.Base
	Reason string `json:"reason,omitempty"`
}

type Completed struct {
	es.Base
}

func (Created) EventType() string   { return EventCreated }
func (Confirmed) EventType() string { return EventConfirmed }
func (Cancelled) EventType() string { return EventCancelled }
func (Completed) EventType() string { return EventCompleted }

func (Created) isAppointmentEvent()   {}
func (Confirmed) isAppointmentEvent() {}
func (Cancelled) isAppointmentEvent() {}
func (Completed) isAppointmentEvent() {}

// NewCodec registers every appointment event.
func NewCodec() *es.Codec[Event] {
	c := es.NewCodec[Event](AggregateType)
	es.Register[Event, Created](c, EventCreated)
	es.Register[Event, Confirmed](c, EventConfirmed)
	es.Register[Event, Cancelled](c, EventCancelled)
	es.Register[Event, Completed](c, EventCompleted)
	return c
}
