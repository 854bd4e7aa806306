// Package broker moves committed records to and from the message brokers.
// Records leave as JSON envelopes with CloudEvents binary-mode headers,
// keyed by aggregate id so one aggregate's events stay in order.
package broker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

var ErrNoTopic = errors.New("no topic for event type")

// Topics consumed from neighbouring contexts.
const (
	TopicPatientRegistered = "patient.registered"
	TopicDoctorAvailable   = "doctor.available"
	TopicCalendarSlotFreed = "calendar.slot.freed"
)

// Topics maps event types to broker topics (NATS subjects share the names).
type Topics map[string]string

func DefaultTopics() Topics {
	return Topics{
		appointment.EventCreated:   "appointment.created",
		appointment.EventConfirmed: "appointment.confirmed",
		appointment.EventCancelled: "appointment.cancelled",
		appointment.EventCompleted: "appointment.completed",

		visio.EventCreated:                       "visio.created",
		visio.EventStarted:                       "visio.started",
		visio.EventActivated:                     "visio.activated",
		visio.EventPaused:                        "visio.paused",
		visio.EventResumed:                       "visio.resumed",
		visio.EventEnded:                         "visio.ended",
		visio.EventCancelled:                     "visio.cancelled",
		visio.EventConfigurationUpdated:          "visio.configuration.updated",
		visio.EventParticipantAdded:              "visio.participant.added",
		visio.EventConnectionLinkGenerated:       "visio.participant.link_generated",
		visio.EventParticipantConnected:          "visio.participant.connected",
		visio.EventParticipantDisconnected:       "visio.participant.disconnected",
		visio.EventParticipantLeft:               "visio.participant.left",
		visio.EventParticipantRemoved:            "visio.participant.removed",
		visio.EventParticipantPreferencesUpdated: "visio.participant.preferences_updated",
	}
}

// For returns the topic of an event type. Unknown types are an error so a
// new event cannot be silently dropped.
func (t Topics) For(eventType string) (string, error) {
	topic, ok := t[eventType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTopic, eventType)
	}
	return topic, nil
}

// All returns every outbound topic, sorted.
func (t Topics) All() []string {
	seen := make(map[string]struct{}, len(t))
	out := make([]string, 0, len(t))
	for _, topic := range t {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// ExternalTopics are the inbound topics the consumer subscribes to.
func ExternalTopics() []string {
	return []string{TopicPatientRegistered, TopicDoctorAvailable, TopicCalendarSlotFreed}
}
