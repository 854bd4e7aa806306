package visio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusStarting  Status = "STARTING"
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusEnded     Status = "ENDED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusCreated:  {StatusStarting, StatusCancelled},
	StatusStarting: {StatusActive, StatusCancelled},
	StatusActive:   {StatusPaused, StatusEnded},
	StatusPaused:   {StatusActive, StatusEnded},
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
	return s == StatusEnded || s == StatusCancelled
}

var (
	ErrInvalidTransition            = errors.New("invalid status transition")
	ErrInvalidConfiguration         = errors.New("invalid configuration")
	ErrInvalidConnectionLink        = errors.New("invalid connection link")
	ErrInvalidParticipant           = errors.New("invalid participant")
	ErrVisioTerminated              = errors.New("visio is ended or cancelled")
	ErrCapacityReached              = errors.New("visio is at capacity")
	ErrNotEnoughParticipants        = errors.New("visio needs at least two participants to start")
	ErrConfigurationLocked          = errors.New("configuration cannot change while the visio is active")
	ErrCapacityBelowParticipants    = errors.New("max participants is below the current participant count")
	ErrParticipantExists            = errors.New("participant already in visio")
	ErrParticipantNotFound          = errors.New("participant not found")
	ErrInvalidParticipantTransition = errors.New("invalid participant status transition")
	ErrConnectionLinkExpired        = errors.New("connection link missing or expired")
	ErrVisioNotFound                = errors.New("visio not found")
)

var now = time.Now

// State is everything replay derives from a visio's events.
type State struct {
	ID            string
	Status        Status
	Configuration Configuration
	Participants  map[string]Participant
	CreatedAt     time.Time
	StartedAt     time.Time
	EndedAt       time.Time
	UpdatedAt     time.Time
}

// Fold applies one event. Participant changes copy the map so earlier
// states handed out by callers stay untouched.
func Fold(s State, e Event) State {
	switch ev := e.(type) {
	case Created:
		s.ID = ev.ID
		s.Status = StatusCreated
		s.Configuration = ev.Configuration
		s.Participants = map[string]Participant{}
		s.CreatedAt = ev.At
	case Started:
		s.Status = StatusStarting
		s.StartedAt = ev.At
	case Activated:
		s.Status = StatusActive
	case Paused:
		s.Status = StatusPaused
	case Resumed:
		s.Status = StatusActive
	case Ended:
		s.Status = StatusEnded
		s.EndedAt = ev.At
	case Cancelled:
		s.Status = StatusCancelled
		s.EndedAt = ev.At
	case ConfigurationUpdated:
		s.Configuration = ev.New
	case ParticipantAdded:
		s.Participants = cloneParticipants(s.Participants)
		s.Participants[ev.ParticipantID] = Participant{
			ID:          ev.ParticipantID,
			Type:        ev.Type,
			Status:      ParticipantStatusInvited,
			IsHost:      ev.IsHost,
			Preferences: ev.Preferences,
			InvitedAt:   ev.At,
		}
	case ConnectionLinkGenerated:
		s = updateParticipant(s, ev.ParticipantID, func(p *Participant) {
			p.Link = &ConnectionLink{Token: ev.Token, ExpiresAt: ev.ExpiresAt}
		})
	case ParticipantConnected:
		s = updateParticipant(s, ev.ParticipantID, func(p *Participant) {
			p.Status = ParticipantStatusConnected
			p.LastConnectedAt = ev.At
		})
	case ParticipantDisconnected:
		s = updateParticipant(s, ev.ParticipantID, func(p *Participant) { p.Status = ParticipantStatusDisconnected })
	case ParticipantLeft:
		s = updateParticipant(s, ev.ParticipantID, func(p *Participant) { p.Status = ParticipantStatusLeft })
	case ParticipantRemoved:
		s.Participants = cloneParticipants(s.Participants)
		delete(s.Participants, ev.ParticipantID)
	case ParticipantPreferencesUpdated:
		s = updateParticipant(s, ev.ParticipantID, func(p *Participant) { p.Preferences = ev.New })
	default:
		panic(fmt.Sprintf("visio: unhandled event %T", e))
	}
	s.UpdatedAt = e.OccurredOn()
	return s
}

func cloneParticipants(in map[string]Participant) map[string]Participant {
	out := make(map[string]Participant, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func updateParticipant(s State, id string, fn func(*Participant)) State {
	p, ok := s.Participants[id]
	if !ok {
		return s
	}
	s.Participants = cloneParticipants(s.Participants)
	fn(&p)
	s.Participants[id] = p
	return s
}

// Visio is the write-side aggregate for a video-conference session.
type Visio struct {
	state  State
	stream es.Stream[Event]
}

// Create opens a session in CREATED with the given configuration.
func Create(cfg Configuration) (*Visio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, es.Validation("visio.create", err)
	}
	v := &Visio{}
	v.apply(Created{Base: es.NewBase(uuid.NewString(), now()), Configuration: cfg})
	return v, nil
}

// Reconstruct rebuilds a visio from its stored events.
func Reconstruct(id string, events []Event) (*Visio, error) {
	if len(events) == 0 {
		return nil, es.NotFound("visio.reconstruct", fmt.Errorf("%w: %s", ErrVisioNotFound, id))
	}
	for _, e := range events {
		if e.AggregateID() != id {
			return nil, fmt.Errorf("visio.reconstruct: event %s belongs to %s, not %s", e.EventType(), e.AggregateID(), id)
		}
	}
	v := &Visio{}
	v.state = es.Replay(State{}, events, Fold)
	v.stream.Restore(len(events))
	return v, nil
}

// AddParticipant invites someone and issues their first connection link.
func (v *Visio) AddParticipant(spec ParticipantSpec, linkValidity time.Duration) (Participant, error) {
	const op = "visio.add_participant"
	if v.state.Status.Terminal() {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: status %s", ErrVisioTerminated, v.state.Status))
	}
	if !spec.Type.Valid() {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: unknown type %q", ErrInvalidParticipant, spec.Type))
	}
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := v.state.Participants[id]; exists {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: %s", ErrParticipantExists, id))
	}
	if len(v.state.Participants) >= v.state.Configuration.MaxParticipants {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: %d of %d", ErrCapacityReached,
			len(v.state.Participants), v.state.Configuration.MaxParticipants))
	}

	prefs := DefaultPreferences()
	if spec.Preferences != nil {
		prefs = *spec.Preferences
	}

	at := now()
	link := GenerateConnectionLink(linkValidity, at)
	v.apply(ParticipantAdded{
		Base:          es.NewBase(v.state.ID, at),
		ParticipantID: id,
		Type:          spec.Type,
		IsHost:        spec.IsHost,
		Preferences:   prefs,
	})
	v.apply(ConnectionLinkGenerated{
		Base:          es.NewBase(v.state.ID, at),
		ParticipantID: id,
		Token:         link.Token,
		ExpiresAt:     link.ExpiresAt,
	})
	return v.state.Participants[id], nil
}

// GenerateConnectionLink replaces the participant's link with a new one.
func (v *Visio) GenerateConnectionLink(participantID string, validity time.Duration) (ConnectionLink, error) {
	if _, err := v.participant("visio.generate_link", participantID); err != nil {
		return ConnectionLink{}, err
	}
	at := now()
	link := GenerateConnectionLink(validity, at)
	v.apply(ConnectionLinkGenerated{
		Base:          es.NewBase(v.state.ID, at),
		ParticipantID: participantID,
		Token:         link.Token,
		ExpiresAt:     link.ExpiresAt,
	})
	return link, nil
}

// ConnectParticipant requires an unexpired link.
func (v *Visio) ConnectParticipant(participantID string) error {
	const op = "visio.connect_participant"
	p, err := v.participantTransition(op, participantID, ParticipantStatusConnected)
	if err != nil {
		return err
	}
	at := now()
	if !p.HasValidLink(at) {
		return es.Validation(op, fmt.Errorf("%w: participant %s", ErrConnectionLinkExpired, participantID))
	}
	v.apply(ParticipantConnected{Base: es.NewBase(v.state.ID, at), ParticipantID: participantID})
	return nil
}

func (v *Visio) DisconnectParticipant(participantID string) error {
	if _, err := v.participantTransition("visio.disconnect_participant", participantID, ParticipantStatusDisconnected); err != nil {
		return err
	}
	v.apply(ParticipantDisconnected{Base: es.NewBase(v.state.ID, now()), ParticipantID: participantID})
	return nil
}

func (v *Visio) LeaveParticipant(participantID string) error {
	if _, err := v.participantTransition("visio.leave_participant", participantID, ParticipantStatusLeft); err != nil {
		return err
	}
	v.apply(ParticipantLeft{Base: es.NewBase(v.state.ID, now()), ParticipantID: participantID})
	return nil
}

// RemoveParticipant takes the participant off the roster, freeing a seat.
func (v *Visio) RemoveParticipant(participantID string) error {
	if _, err := v.participantTransition("visio.remove_participant", participantID, ParticipantStatusRemoved); err != nil {
		return err
	}
	v.apply(ParticipantRemoved{Base: es.NewBase(v.state.ID, now()), ParticipantID: participantID})
	return nil
}

func (v *Visio) UpdateParticipantPreferences(participantID string, prefs Preferences) error {
	const op = "visio.update_preferences"
	p, err := v.participant(op, participantID)
	if err != nil {
		return err
	}
	if p.Status == ParticipantStatusLeft {
		return es.Validation(op, fmt.Errorf("%w: participant %s has left", ErrInvalidParticipantTransition, participantID))
	}
	v.apply(ParticipantPreferencesUpdated{
		Base:          es.NewBase(v.state.ID, now()),
		ParticipantID: participantID,
		Old:           p.Preferences,
		New:           prefs,
	})
	return nil
}

// Start moves CREATED to STARTING once at least two participants joined.
func (v *Visio) Start() error {
	if err := v.transition("start", StatusStarting); err != nil {
		return err
	}
	if len(v.state.Participants) < MinParticipants {
		return es.Validation("visio.start", fmt.Errorf("%w: has %d", ErrNotEnoughParticipants, len(v.state.Participants)))
	}
	v.apply(Started{Base: es.NewBase(v.state.ID, now())})
	return nil
}

func (v *Visio) Activate() error {
	if v.state.Status != StatusStarting {
		return v.rejectTransition("activate", StatusActive)
	}
	v.apply(Activated{Base: es.NewBase(v.state.ID, now())})
	return nil
}

func (v *Visio) Pause() error {
	if err := v.transition("pause", StatusPaused); err != nil {
		return err
	}
	v.apply(Paused{Base: es.NewBase(v.state.ID, now())})
	return nil
}

func (v *Visio) Resume() error {
	if v.state.Status != StatusPaused {
		return v.rejectTransition("resume", StatusActive)
	}
	v.apply(Resumed{Base: es.NewBase(v.state.ID, now())})
	return nil
}

func (v *Visio) End() error {
	if err := v.transition("end", StatusEnded); err != nil {
		return err
	}
	v.apply(Ended{Base: es.NewBase(v.state.ID, now())})
	return nil
}

func (v *Visio) Cancel(reason string) error {
	if err := v.transition("cancel", StatusCancelled); err != nil {
		return err
	}
	v.apply(Cancelled{Base: es.NewBase(v.state.ID, now()), Reason: strings.TrimSpace(reason)})
	return nil
}

// UpdateConfiguration is refused while ACTIVE, after termination, and when
// the new capacity is below the current roster.
func (v *Visio) UpdateConfiguration(cfg Configuration) error {
	const op = "visio.update_configuration"
	if err := cfg.Validate(); err != nil {
		return es.Validation(op, err)
	}
	switch {
	case v.state.Status == StatusActive:
		return es.Validation(op, ErrConfigurationLocked)
	case v.state.Status.Terminal():
		return es.Validation(op, fmt.Errorf("%w: status %s", ErrVisioTerminated, v.state.Status))
	case cfg.MaxParticipants < len(v.state.Participants):
		return es.Validation(op, fmt.Errorf("%w: %d < %d", ErrCapacityBelowParticipants, cfg.MaxParticipants, len(v.state.Participants)))
	}
	v.apply(ConfigurationUpdated{Base: es.NewBase(v.state.ID, now()), Old: v.state.Configuration, New: cfg})
	return nil
}

func (v *Visio) transition(command string, next Status) error {
	if v.state.Status.CanTransitionTo(next) {
		return nil
	}
	return v.rejectTransition(command, next)
}

func (v *Visio) rejectTransition(command string, next Status) error {
	return es.Validation("visio."+command,
		fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, v.state.Status, next))
}

func (v *Visio) participant(op, id string) (Participant, error) {
	if v.state.Status.Terminal() {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: status %s", ErrVisioTerminated, v.state.Status))
	}
	p, ok := v.state.Participants[id]
	if !ok {
		return Participant{}, es.NotFound(op, fmt.Errorf("%w: %s", ErrParticipantNotFound, id))
	}
	return p, nil
}

func (v *Visio) participantTransition(op, id string, next ParticipantStatus) (Participant, error) {
	p, err := v.participant(op, id)
	if err != nil {
		return Participant{}, err
	}
	if !p.Status.CanTransitionTo(next) {
		return Participant{}, es.Validation(op, fmt.Errorf("%w: %s cannot move from %s to %s",
			ErrInvalidParticipantTransition, id, p.Status, next))
	}
	return p, nil
}

func (v *Visio) apply(e Event) {
	v.state = Fold(v.state, e)
	v.stream.Record(e)
}

func (v *Visio) ID() string                   { return v.state.ID }
func (v *Visio) Status() Status               { return v.state.Status }
func (v *Visio) Configuration() Configuration { return v.state.Configuration }
func (v *Visio) Version() int                 { return v.stream.Version() }
func (v *Visio) Uncommitted() []Event         { return v.stream.Uncommitted() }
func (v *Visio) Commit()                      { v.stream.Commit() }

// State returns a copy that callers may keep.
func (v *Visio) State() State {
	s := v.state
	s.Participants = cloneParticipants(v.state.Participants)
	return s
}

func (v *Visio) Participant(id string) (Participant, bool) {
	p, ok := v.state.Participants[id]
	return p, ok
}

// Participants returns the roster ordered by id.
func (v *Visio) Participants() []Participant {
	out := make([]Participant, 0, len(v.state.Participants))
	for _, p := range v.state.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *Visio) ParticipantCount() int {
	return len(v.state.Participants)
}

func (v *Visio) ConnectedCount() int {
	n := 0
	for _, p := range v.state.Participants {
		if p.Status == ParticipantStatusConnected {
			n++
		}
	}
	return n
}

// Host returns the first participant flagged as host, by id order.
func (v *Visio) Host() (Participant, bool) {
	for _, p := range v.Participants() {
		if p.IsHost {
			return p, true
		}
	}
	return Participant{}, false
}

func (v *Visio) CanStart() bool {
	return v.state.Status == StatusCreated && len(v.state.Participants) >= MinParticipants
}
