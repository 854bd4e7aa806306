package visio

import "time"

type ParticipantType string

const (
	ParticipantInternal ParticipantType = "INTERNAL"
	ParticipantExternal ParticipantType = "EXTERNAL"
)

func (t ParticipantType) Valid() bool {
	return t == ParticipantInternal || t == ParticipantExternal
}

type ParticipantStatus string

const (
	ParticipantStatusInvited      ParticipantStatus = "INVITED"
	ParticipantStatusConnected    ParticipantStatus = "CONNECTED"
	ParticipantStatusDisconnected ParticipantStatus = "DISCONNECTED"
	ParticipantStatusLeft         ParticipantStatus = "LEFT"
	ParticipantStatusRemoved      ParticipantStatus = "REMOVED"
)

var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantStatusInvited:      {ParticipantStatusConnected, ParticipantStatusRemoved},
	ParticipantStatusConnected:    {ParticipantStatusDisconnected, ParticipantStatusLeft, ParticipantStatusRemoved},
	ParticipantStatusDisconnected: {ParticipantStatusConnected, ParticipantStatusLeft, ParticipantStatusRemoved},
}

func (s ParticipantStatus) CanTransitionTo(next ParticipantStatus) bool {
	for _, allowed := range participantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Participant is owned by a Visio and only changes through its commands.
type Participant struct {
	ID              string            `json:"id"`
	Type            ParticipantType   `json:"type"`
	Status          ParticipantStatus `json:"status"`
	IsHost          bool              `json:"isHost"`
	Link            *ConnectionLink   `json:"connectionLink,omitempty"`
	Preferences     Preferences       `json:"preferences"`
	InvitedAt       time.Time         `json:"invitedAt"`
	LastConnectedAt time.Time         `json:"lastConnectedAt,omitempty"`
}

// HasValidLink reports whether the participant holds an unexpired link.
func (p Participant) HasValidLink(at time.Time) bool {
	return p.Link != nil && !p.Link.Expired(at)
}

// ParticipantSpec describes someone to invite.
type ParticipantSpec struct {
	ID          string
	Type        ParticipantType
	IsHost      bool
	Preferences *Preferences
}
