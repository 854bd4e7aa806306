package visio

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinParticipants        = 2
	ParticipantsCeiling    = 100
	DefaultMaxParticipants = 50
	DefaultLinkValidity    = 60 * time.Minute
)

// Configuration controls what a session allows and how many people can
// join it.
type Configuration struct {
	ShareScreen     bool `json:"shareScreen"`
	Chat            bool `json:"chat"`
	Document        bool `json:"document"`
	Recording       bool `json:"recording"`
	MaxParticipants int  `json:"maxParticipants"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		ShareScreen:     true,
		Chat:            true,
		Document:        true,
		Recording:       false,
		MaxParticipants: DefaultMaxParticipants,
	}
}

func (c Configuration) Validate() error {
	if c.MaxParticipants < MinParticipants || c.MaxParticipants > ParticipantsCeiling {
		return fmt.Errorf("%w: max participants must be between %d and %d, got %d",
			ErrInvalidConfiguration, MinParticipants, ParticipantsCeiling, c.MaxParticipants)
	}
	return nil
}

type Preferences struct {
	Microphone    bool `json:"microphone"`
	Speaker       bool `json:"speaker"`
	Camera        bool `json:"camera"`
	Notifications bool `json:"notifications"`
}

func DefaultPreferences() Preferences {
	return Preferences{Microphone: true, Speaker: true, Camera: true, Notifications: true}
}

// ConnectionLink grants a participant access until ExpiresAt.
type ConnectionLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewConnectionLink rejects empty tokens and expiries not after at.
func NewConnectionLink(token string, expiresAt, at time.Time) (ConnectionLink, error) {
	if strings.TrimSpace(token) == "" {
		return ConnectionLink{}, fmt.Errorf("%w: token is required", ErrInvalidConnectionLink)
	}
	if !expiresAt.After(at) {
		return ConnectionLink{}, fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidConnectionLink, expiresAt.Format(time.RFC3339))
	}
	return ConnectionLink{Token: token, ExpiresAt: expiresAt.UTC()}, nil
}

// GenerateConnectionLink issues a fresh random token. A non-positive
// validity falls back to DefaultLinkValidity.
func GenerateConnectionLink(validity time.Duration, at time.Time) ConnectionLink {
	if validity <= 0 {
		validity = DefaultLinkValidity
	}
	return ConnectionLink{Token: uuid.NewString(), ExpiresAt: at.Add(validity).UTC()}
}

func (l ConnectionLink) Expired(at time.Time) bool {
	return !at.Before(l.ExpiresAt)
}
