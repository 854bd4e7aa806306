package broker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

const envelopeVersion = "1.0.0"

type Metadata struct {
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the message body on every topic.
type Envelope struct {
	EventID          string          `json:"eventId"`
	EventType        string          `json:"eventType"`
	AggregateID      string          `json:"aggregateId"`
	AggregateType    string          `json:"aggregateType"`
	AggregateVersion int             `json:"aggregateVersion"`
	OccurredOn       time.Time       `json:"occurredOn"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         Metadata        `json:"metadata"`
}

type Header struct {
	Key   string
	Value string
}

// Message is a broker-neutral outbound message.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []Header
}

// Encoder turns records into messages for one event source.
type Encoder struct {
	source string
	topics Topics
	now    func() time.Time
}

func NewEncoder(source string, topics Topics) *Encoder {
	return &Encoder{source: source, topics: topics, now: time.Now}
}

func (e *Encoder) Encode(rec es.Record) (Message, error) {
	topic, err := e.topics.For(rec.EventType)
	if err != nil {
		return Message{}, err
	}

	body, err := json.Marshal(Envelope{
		EventID:          rec.EventID,
		EventType:        rec.EventType,
		AggregateID:      rec.AggregateID,
		AggregateType:    rec.AggregateType,
		AggregateVersion: rec.Version,
		OccurredOn:       rec.OccurredOn,
		Payload:          rec.Payload,
		Metadata: Metadata{
			Source:    e.source,
			Version:   envelopeVersion,
			Timestamp: e.now().UTC(),
		},
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode envelope %s: %w", rec.EventType, err)
	}

	headers, err := e.headers(rec)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Key: rec.AggregateID, Value: body, Headers: headers}, nil
}

// headers builds the CloudEvents binary-mode attributes for rec. The event
// is validated so a record missing its id or type never reaches a broker.
func (e *Encoder) headers(rec es.Record) ([]Header, error) {
	ev := cloudevents.NewEvent()
	ev.SetID(rec.EventID)
	ev.SetSource(e.source)
	ev.SetType(rec.EventType)
	ev.SetTime(rec.OccurredOn)
	ev.SetSubject(rec.AggregateID)
	ev.SetDataContentType(cloudevents.ApplicationJSON)
	ev.SetExtension("aggregatetype", rec.AggregateType)
	ev.SetExtension("aggregateversion", strconv.Itoa(rec.Version))
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("cloudevent %s: %w", rec.EventType, err)
	}

	headers := []Header{
		{Key: "ce_id", Value: ev.ID()},
		{Key: "ce_source", Value: ev.Source()},
		{Key: "ce_specversion", Value: ev.SpecVersion()},
		{Key: "ce_type", Value: ev.Type()},
		{Key: "ce_time", Value: ev.Time().UTC().Format(time.RFC3339Nano)},
		{Key: "ce_subject", Value: ev.Subject()},
		{Key: "content-type", Value: ev.DataContentType()},
	}
	ext := ev.Extensions()
	names := make([]string, 0, len(ext))
	for k := range ext {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		headers = append(headers, Header{Key: "ce_" + k, Value: fmt.Sprint(ext[k])})
	}
	return headers, nil
}

// PayloadOf returns the domain payload of an inbound message, unwrapping
// an Envelope when the producer used one.
func PayloadOf(value []byte) json.RawMessage {
	var env struct {
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(value, &env); err == nil && env.EventType != "" && len(env.Payload) > 0 {
		return env.Payload
	}
	return value
}
