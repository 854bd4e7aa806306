package api

import (
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

type CreateAppointmentRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	PatientID   string    `json:"patientId"`
	DoctorID    string    `json:"doctorId"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
	PatientID          string    `json:"patientId"`
	DoctorID           string    `json:"doctorId"`
	Status             string    `json:"status"`
	CancellationReason string    `json:"cancellationReason,omitempty"`
	Version            int       `json:"version"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	s := a.State()
	return AppointmentResponse{
		ID:                 s.ID,
		Title:              s.Title,
		Description:        s.Description,
		StartDate:          s.StartDate,
		EndDate:            s.EndDate,
		PatientID:          s.PatientID,
		DoctorID:           s.DoctorID,
		Status:             string(s.Status),
		CancellationReason: s.CancellationReason,
		Version:            a.Version(),
	}
}

// ConfigurationRequest leaves unset fields at their defaults.
type ConfigurationRequest struct {
	ShareScreen     *bool `json:"shareScreen"`
	Chat            *bool `json:"chat"`
	Document        *bool `json:"document"`
	Recording       *bool `json:"recording"`
	MaxParticipants *int  `json:"maxParticipants"`
}

func (c *ConfigurationRequest) apply(base visio.Configuration) visio.Configuration {
	if c == nil {
		return base
	}
	if c.ShareScreen != nil {
		base.ShareScreen = *c.ShareScreen
	}
	if c.Chat != nil {
		base.Chat = *c.Chat
	}
	if c.Document != nil {
		base.Document = *c.Document
	}
	if c.Recording != nil {
		base.Recording = *c.Recording
	}
	if c.MaxParticipants != nil {
		base.MaxParticipants = *c.MaxParticipants
	}
	return base
}

type CreateVisioRequest struct {
	Configuration *ConfigurationRequest `json:"configuration"`
}

type AddParticipantRequest struct {
	ParticipantID string             `json:"participantId"`
	Type          string             `json:"type"`
	IsHost        bool               `json:"isHost"`
	Preferences   *visio.Preferences `json:"preferences"`
}

type ParticipantResponse struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	IsHost          bool              `json:"isHost"`
	Preferences     visio.Preferences `json:"preferences"`
	LinkExpiresAt   *time.Time        `json:"linkExpiresAt,omitempty"`
	LastConnectedAt *time.Time        `json:"lastConnectedAt,omitempty"`
}

func newParticipantResponse(p visio.Participant) ParticipantResponse {
	resp := ParticipantResponse{
		ID:          p.ID,
		Type:        string(p.Type),
		Status:      string(p.Status),
		IsHost:      p.IsHost,
		Preferences: p.Preferences,
	}
	if p.Link != nil {
		exp := p.Link.ExpiresAt
		resp.LinkExpiresAt = &exp
	}
	if !p.LastConnectedAt.IsZero() {
		at := p.LastConnectedAt
		resp.LastConnectedAt = &at
	}
	return resp
}

type VisioResponse struct {
	ID            string                `json:"id"`
	Status        string                `json:"status"`
	Configuration visio.Configuration   `json:"configuration"`
	Participants  []ParticipantResponse `json:"participants"`
	CanStart      bool                  `json:"canStart"`
	Version       int                   `json:"version"`
}

func newVisioResponse(v *visio.Visio) VisioResponse {
	resp := VisioResponse{
		ID:            v.ID(),
		Status:        string(v.Status()),
		Configuration: v.Configuration(),
		Participants:  []ParticipantResponse{},
		CanStart:      v.CanStart(),
		Version:       v.Version(),
	}
	for _, p := range v.Participants() {
		resp.Participants = append(resp.Participants, newParticipantResponse(p))
	}
	return resp
}

// ConnectionLinkResponse is the only place a link token leaves the service
// other than the invitation email.
type ConnectionLinkResponse struct {
	ParticipantID string    `json:"participantId"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
