package saga

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

// InvitationSaga emails a participant their join link whenever one is
// generated. Internal participants are looked up as doctors, external ones
// as patients.
type InvitationSaga struct {
	deps *Deps
}

func NewInvitationSaga(deps *Deps) *InvitationSaga {
	return &InvitationSaga{deps: deps}
}

func (s *InvitationSaga) Handle(ctx context.Context, e visio.ConnectionLinkGenerated) telemetry.SagaOutcome {
	key := e.AggregateID() + "/" + e.ParticipantID
	return Run(ctx, s.deps, "visio_invitation", key, func(ctx context.Context, sc *Scope) error {
		var participant visio.Participant
		if err := sc.Step(ctx, "load_visio", func(ctx context.Context) error {
			v, err := s.deps.Visios.FindByID(ctx, e.AggregateID())
			if err != nil {
				return err
			}
			p, ok := v.Participant(e.ParticipantID)
			if !ok {
				return fmt.Errorf("%w: %s", visio.ErrParticipantNotFound, e.ParticipantID)
			}
			participant = p
			return nil
		}); err != nil {
			return err
		}

		var contact Contact
		if err := sc.Step(ctx, "fetch_contact", func(ctx context.Context) error {
			var err error
			if participant.Type == visio.ParticipantInternal {
				contact, err = s.deps.Doctors.GetDoctorByID(ctx, participant.ID)
			} else {
				contact, err = s.deps.Patients.GetPatientByID(ctx, participant.ID)
			}
			return err
		}); err != nil {
			return err
		}

		link := s.joinLink(e.AggregateID(), e.Token)
		return sc.Step(ctx, "email_link", func(ctx context.Context) error {
			return s.deps.Notifier.SendEmail(ctx, contact.Email, "Your video consultation link",
				fmt.Sprintf("Hello %s, join the consultation here: %s (valid until %s).",
					contact.Name, link, e.ExpiresAt.Format(dateLayout)))
		})
	})
}

func (s *InvitationSaga) joinLink(visioID, token string) string {
	base := s.deps.JoinURL
	if base == "" {
		base = "http://localhost:8080/visios/join"
	}
	return fmt.Sprintf("%s/%s?token=%s", base, url.PathEscape(visioID), url.QueryEscape(token))
}
