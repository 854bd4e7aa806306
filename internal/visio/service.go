package visio

import (
	"context"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

type Service struct {
	repo         *Repository
	committer    *es.Committer
	emitter      telemetry.Emitter
	log          *logger.Logger
	linkValidity time.Duration
}

func NewService(repo *Repository, committer *es.Committer, emitter telemetry.Emitter, log *logger.Logger, linkValidity time.Duration) *Service {
	if linkValidity <= 0 {
		linkValidity = DefaultLinkValidity
	}
	return &Service{
		repo:         repo,
		committer:    committer,
		emitter:      emitter,
		log:          log.With("component", "visio_service"),
		linkValidity: linkValidity,
	}
}

func (s *Service) Create(ctx context.Context, cfg Configuration) (*Visio, error) {
	v, err := Create(cfg)
	if err != nil {
		s.emitter.CommandRejected(ctx, AggregateType, "create", "", err)
		return nil, err
	}
	if err := s.persist(ctx, "create", v); err != nil {
		return nil, err
	}
	s.log.Info("visio created", "visio_id", v.ID(), "max_participants", cfg.MaxParticipants)
	return v, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Visio, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) AddParticipant(ctx context.Context, visioID string, spec ParticipantSpec) (Participant, error) {
	var added Participant
	_, err := s.execute(ctx, "add_participant", visioID, func(v *Visio) error {
		p, err := v.AddParticipant(spec, s.linkValidity)
		added = p
		return err
	})
	return added, err
}

func (s *Service) GenerateConnectionLink(ctx context.Context, visioID, participantID string) (ConnectionLink, error) {
	var link ConnectionLink
	_, err := s.execute(ctx, "generate_link", visioID, func(v *Visio) error {
		l, err := v.GenerateConnectionLink(participantID, s.linkValidity)
		link = l
		return err
	})
	return link, err
}

func (s *Service) ConnectParticipant(ctx context.Context, visioID, participantID string) (*Visio, error) {
	return s.execute(ctx, "connect_participant", visioID, func(v *Visio) error { return v.ConnectParticipant(participantID) })
}

func (s *Service) DisconnectParticipant(ctx context.Context, visioID, participantID string) (*Visio, error) {
	return s.execute(ctx, "disconnect_participant", visioID, func(v *Visio) error { return v.DisconnectParticipant(participantID) })
}

func (s *Service) LeaveParticipant(ctx context.Context, visioID, participantID string) (*Visio, error) {
	return s.execute(ctx, "leave_participant", visioID, func(v *Visio) error { return v.LeaveParticipant(participantID) })
}

func (s *Service) RemoveParticipant(ctx context.Context, visioID, participantID string) (*Visio, error) {
	return s.execute(ctx, "remove_participant", visioID, func(v *Visio) error { return v.RemoveParticipant(participantID) })
}

func (s *Service) UpdateParticipantPreferences(ctx context.Context, visioID, participantID string, prefs Preferences) (*Visio, error) {
	return s.execute(ctx, "update_preferences", visioID, func(v *Visio) error {
		return v.UpdateParticipantPreferences(participantID, prefs)
	})
}

func (s *Service) Start(ctx context.Context, id string) (*Visio, error) {
	return s.execute(ctx, "start", id, func(v *Visio) error { return v.Start() })
}

func (s *Service) Activate(ctx context.Context, id string) (*Visio, error) {
	return s.execute(ctx, "activate", id, func(v *Visio) error { return v.Activate() })
}

func (s *Service) Pause(ctx context.Context, id string) (*Visio, error) {
	return s.execute(ctx, "pause", id, func(v *Visio) error { return v.Pause() })
}

func (s *Service) Resume(ctx context.Context, id string) (*Visio, error) {
	return s.execute(ctx, "resume", id, func(v *Visio) error { return v.Resume() })
}

func (s *Service) End(ctx context.Context, id string) (*Visio, error) {
	return s.execute(ctx, "end", id, func(v *Visio) error { return v.End() })
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*Visio, error) {
	return s.execute(ctx, "cancel", id, func(v *Visio) error { return v.Cancel(reason) })
}

func (s *Service) UpdateConfiguration(ctx context.Context, id string, cfg Configuration) (*Visio, error) {
	return s.execute(ctx, "update_configuration", id, func(v *Visio) error { return v.UpdateConfiguration(cfg) })
}

func (s *Service) execute(ctx context.Context, command, id string, fn func(*Visio) error) (*Visio, error) {
	v, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(v); err != nil {
		s.emitter.CommandRejected(ctx, AggregateType, command, id, err)
		return nil, err
	}
	if err := s.persist(ctx, command, v); err != nil {
		return nil, err
	}
	s.log.Info("visio updated", "visio_id", id, "command", command, "status", string(v.Status()), "version", v.Version())
	return v, nil
}

func (s *Service) persist(ctx context.Context, command string, v *Visio) error {
	unlock := s.committer.Lock(v.ID())
	defer unlock()

	recs, err := s.repo.Save(ctx, v)
	if err != nil {
		if es.IsCode(err, es.CodeConflict) {
			s.emitter.CommandRejected(ctx, AggregateType, command, v.ID(), err)
		}
		return err
	}
	err = s.committer.Commit(ctx, recs)
	v.Commit()
	if err != nil {
		s.log.Error("publish failed after append", "visio_id", v.ID(), "command", command, "error", err)
		return err
	}
	return nil
}
