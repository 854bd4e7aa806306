package visio

import (
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

const AggregateType = "Visio"

const (
	EventCreated                       = "VisioCreated"
	EventStarted                       = "VisioStarted"
	EventActivated                     = "VisioActivated"
	EventPaused                        = "VisioPaused"
	EventResumed                       = "VisioResumed"
	EventEnded                         = "VisioEnded"
	EventCancelled                     = "VisioCancelled"
	EventConfigurationUpdated          = "VisioConfigurationUpdated"
	EventParticipantAdded              = "ParticipantAdded"
	EventConnectionLinkGenerated       = "ConnectionLinkGenerated"
	EventParticipantConnected          = "ParticipantConnected"
	EventParticipantDisconnected       = "ParticipantDisconnected"
	EventParticipantLeft               = "ParticipantLeft"
	EventParticipantRemoved            = "ParticipantRemoved"
	EventParticipantPreferencesUpdated = "ParticipantPreferencesUpdated"
)

// Event is the closed set of visio events.
type Event interface {
	es.Event
	isVisioEvent()
}

type Created struct {
	es.Base
	Configuration Configuration `json:"configuration"`
}

type Started struct{ es.Base }
type Activated struct{ es.Base }
type Paused struct{ es.Base }
type Resumed struct{ es.Base }
type Ended struct{ es.Base }

type Cancelled struct {
	es.Base
	Reason string `json:"reason,omitempty"`
}

type ConfigurationUpdated struct {
	es.Base
	Old Configuration `json:"oldConfiguration"`
	New Configuration `json:"newConfiguration"`
}

// ParticipantAdded carries the whole participant so replay needs nothing
// else to rebuild it.
type ParticipantAdded struct {
	es.Base
	ParticipantID string          `json:"participantId"`
	Type          ParticipantType `json:"participantType"`
	IsHost        bool            `json:"isHost"`
	Preferences   Preferences     `json:"preferences"`
}

type ConnectionLinkGenerated struct {
	es.Base
	ParticipantID string    `json:"participantId"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type ParticipantConnected struct {
	es.Base
	ParticipantID string `json:"participantId"`
}

type ParticipantDisconnected struct {
	es.Base
	ParticipantID string `json:"participantId"`
}

type ParticipantLeft struct {
	es.Base
	ParticipantID string `json:"participantId"`
}

type ParticipantRemoved struct {
	es.Base
	ParticipantID string `json:"participantId"`
}

type ParticipantPreferencesUpdated struct {
	es.Base
	ParticipantID string      `json:"participantId"`
	Old           Preferences `json:"oldPreferences"`
	New           Preferences `json:"newPreferences"`
}

func (Created) EventType() string                       { return EventCreated }
func (Started) EventType() string                       { return EventStarted }
func (Activated) EventType() string                     { return EventActivated }
func (Paused) EventType() string                        { return EventPaused }
func (Resumed) EventType() string                       { return EventResumed }
func (Ended) EventType() string                         { return EventEnded }
func (Cancelled) EventType() string                     { return EventCancelled }
func (ConfigurationUpdated) EventType() string          { return EventConfigurationUpdated }
func (ParticipantAdded) EventType() string              { return EventParticipantAdded }
func (ConnectionLinkGenerated) EventType() string       { return EventConnectionLinkGenerated }
func (ParticipantConnected) EventType() string          { return EventParticipantConnected }
func (ParticipantDisconnected) EventType() string       { return EventParticipantDisconnected }
func (ParticipantLeft) EventType() string               { return EventParticipantLeft }
func (ParticipantRemoved) EventType() string            { return EventParticipantRemoved }
func (ParticipantPreferencesUpdated) EventType() string { return EventParticipantPreferencesUpdated }

func (Created) isVisioEvent()                       {}
func (Started) isVisioEvent()                       {}
func (Activated) isVisioEvent()                     {}
func (Paused) isVisioEvent()                        {}
func (Resumed) isVisioEvent()                       {}
func (Ended) isVisioEvent()                         {}
func (Cancelled) isVisioEvent()                     {}
func (ConfigurationUpdated) isVisioEvent()          {}
func (ParticipantAdded) isVisioEvent()              {}
func (ConnectionLinkGenerated) isVisioEvent()       {}
func (ParticipantConnected) isVisioEvent()          {}
func (ParticipantDisconnected) isVisioEvent()       {}
func (ParticipantLeft) isVisioEvent()               {}
func (ParticipantRemoved) isVisioEvent()            {}
func (ParticipantPreferencesUpdated) isVisioEvent() {}

func NewCodec() *es.Codec[Event] {
	c := es.NewCodec[Event](AggregateType)
	es.Register[Event, Created](c, EventCreated)
	es.Register[Event, Started](c, EventStarted)
	es.Register[Event, Activated](c, EventActivated)
	es.Register[Event, Paused](c, EventPaused)
	es.Register[Event, Resumed](c, EventResumed)
	es.Register[Event, Ended](c, EventEnded)
	es.Register[Event, Cancelled](c, EventCancelled)
	es.Register[Event, ConfigurationUpdated](c, EventConfigurationUpdated)
	es.Register[Event, ParticipantAdded](c, EventParticipantAdded)
	es.Register[Event, ConnectionLinkGenerated](c, EventConnectionLinkGenerated)
	es.Register[Event, ParticipantConnected](c, EventParticipantConnected)
	es.Register[Event, ParticipantDisconnected](c, EventParticipantDisconnected)
	es.Register[Event, ParticipantLeft](c, EventParticipantLeft)
	es.Register[Event, ParticipantRemoved](c, EventParticipantRemoved)
	es.Register[Event, ParticipantPreferencesUpdated](c, EventParticipantPreferencesUpdated)
	return c
}
