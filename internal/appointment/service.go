package appointment

import (
	"context"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

// Service runs appointment commands: load, mutate, append, hand on.
type Service struct {
	repo      *Repository
	committer *es.Committer
	emitter   telemetry.Emitter
	log       *logger.Logger
}

func NewService(repo *Repository, committer *es.Committer, emitter telemetry.Emitter, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		committer: committer,
		emitter:   emitter,
		log:       log.With("component", "appointment_service"),
	}
}

func (s *Service) Create(ctx context.Context, d Details) (*Appointment, error) {
	a, err := Create(d)
	if err != nil {
		s.emitter.CommandRejected(ctx, AggregateType, "create", "", err)
		return nil, err
	}
	if err := s.persist(ctx, "create", a); err != nil {
		return nil, err
	}
	s.log.Info("appointment created", "appointment_id", a.ID(), "patient_id", d.PatientID, "doctor_id", d.DoctorID)
	return a, nil
}

func (s *Service) Confirm(ctx context.Context, id string) (*Appointment, error) {
	return s.execute(ctx, "confirm", id, func(a *Appointment) error { return a.Confirm() })
}

func (s *Service) Cancel(ctx context.Context, id, reason string) (*Appointment, error) {
	return s.execute(ctx, "cancel", id, func(a *Appointment) error { return a.Cancel(reason) })
}

func (s *Service) Complete(ctx context.Context, id string) (*Appointment, error) {
	return s.execute(ctx, "complete", id, func(a *Appointment) error { return a.Complete() })
}

// Get loads the write-side aggregate.
func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) execute(ctx context.Context, command, id string, fn func(*Appointment) error) (*Appointment, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		s.emitter.CommandRejected(ctx, AggregateType, command, id, err)
		return nil, err
	}
	if err := s.persist(ctx, command, a); err != nil {
		return nil, err
	}
	s.log.Info("appointment updated", "appointment_id", id, "command", command, "status", string(a.Status()), "version", a.Version())
	return a, nil
}

func (s *Service) persist(ctx context.Context, command string, a *Appointment) error {
	unlock := s.committer.Lock(a.ID())
	defer unlock()

	recs, err := s.repo.Save(ctx, a)
	if err != nil {
		if es.IsCode(err, es.CodeConflict) {
			s.emitter.CommandRejected(ctx, AggregateType, command, a.ID(), err)
		}
		return err
	}
	err = s.committer.Commit(ctx, recs)
	a.Commit()
	if err != nil {
		s.log.Error("publish failed after append", "appointment_id", a.ID(), "command", command, "error", err)
		return err
	}
	return nil
}
