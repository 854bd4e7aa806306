package broker

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

var at = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func rec(aggregateID string, version int, eventType string) es.Record {
	return es.Record{
		EventID:       "evt-" + eventType,
		AggregateID:   aggregateID,
		AggregateType: "Appointment",
		Version:       version,
		EventType:     eventType,
		OccurredOn:    at,
		Payload:       json.RawMessage(`{"aggregateId":"` + aggregateID + `"}`),
	}
}

func fixedEncoder() *Encoder {
	e := NewEncoder("appointment-service", DefaultTopics())
	e.now = func() time.Time { return at.Add(time.Second) }
	return e
}

func TestEveryEventTypeHasATopic(t *testing.T) {
	topics := DefaultTopics()
	for _, types := range [][]string{appointment.NewCodec().EventTypes(), visio.NewCodec().EventTypes()} {
		for _, et := range types {
			if _, err := topics.For(et); err != nil {
				t.Errorf("%s: %v", et, err)
			}
		}
	}
	if _, err := topics.For("SomethingElse"); !errors.Is(err, ErrNoTopic) {
		t.Fatalf("err = %v, want ErrNoTopic", err)
	}
}

func TestEncodeEnvelopeAndHeaders(t *testing.T) {
	msg, err := fixedEncoder().Encode(rec("appt-1", 2, appointment.EventConfirmed))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.Topic != "appointment.confirmed" || msg.Key != "appt-1" {
		t.Fatalf("topic/key = %s/%s", msg.Topic, msg.Key)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventType != appointment.EventConfirmed || env.AggregateVersion != 2 || !env.OccurredOn.Equal(at) {
		t.Fatalf("envelope = %+v", env)
	}
	want := Metadata{Source: "appointment-service", Version: "1.0.0", Timestamp: at.Add(time.Second)}
	if !reflect.DeepEqual(env.Metadata, want) {
		t.Fatalf("metadata = %+v, want %+v", env.Metadata, want)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = h.Value
	}
	for k, v := range map[string]string{
		"ce_id":               "evt-" + appointment.EventConfirmed,
		"ce_type":             appointment.EventConfirmed,
		"ce_source":           "appointment-service",
		"ce_specversion":      "1.0",
		"ce_subject":          "appt-1",
		"ce_aggregatetype":    "Appointment",
		"ce_aggregateversion": "2",
		"content-type":        "application/json",
	} {
		if headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, headers[k], v)
		}
	}
}

func TestEncodeRejectsRecordWithoutID(t *testing.T) {
	r := rec("appt-1", 1, appointment.EventCreated)
	r.EventID = ""
	if _, err := fixedEncoder().Encode(r); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPayloadOf(t *testing.T) {
	raw := []byte(`{"patientId":"p1"}`)
	if got := PayloadOf(raw); string(got) != string(raw) {
		t.Fatalf("raw payload = %s", got)
	}
	wrapped := []byte(`{"eventType":"PatientRegistered","payload":{"patientId":"p2"}}`)
	if got := PayloadOf(wrapped); string(got) != `{"patientId":"p2"}` {
		t.Fatalf("wrapped payload = %s", got)
	}
}

type fakeWriter struct {
	topic string
	log   *[]string
	err   error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	for _, m := range msgs {
		*w.log = append(*w.log, w.topic+"/"+string(m.Key))
	}
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeepsOrderAcrossTopics(t *testing.T) {
	var writes []string
	p := NewKafkaPublisher(nil, fixedEncoder(), logger.NewNop())
	p.newWriter = func(topic string) messageWriter { return &fakeWriter{topic: topic, log: &writes} }

	err := p.Publish(context.Background(), []es.Record{
		rec("a", 1, appointment.EventCreated),
		rec("a", 2, appointment.EventConfirmed),
		rec("b", 1, appointment.EventCreated),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := []string{"appointment.created/a", "appointment.confirmed/a", "appointment.created/b"}
	if !reflect.DeepEqual(writes, want) {
		t.Fatalf("writes = %v, want %v", writes, want)
	}
	if len(p.writers) != 2 {
		t.Fatalf("writers = %d, want one per topic", len(p.writers))
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaPublisherSurfacesWriteErrors(t *testing.T) {
	var writes []string
	p := NewKafkaPublisher(nil, fixedEncoder(), logger.NewNop())
	boom := errors.New("broker down")
	p.newWriter = func(topic string) messageWriter { return &fakeWriter{topic: topic, log: &writes, err: boom} }

	if err := p.Publish(context.Background(), []es.Record{rec("a", 1, appointment.EventCreated)}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestToNATSCarriesKeyAndHeaders(t *testing.T) {
	msg, err := fixedEncoder().Encode(rec("appt-9", 1, appointment.EventCreated))
	if err != nil {
		t.Fatal(err)
	}
	nm := toNATS(msg)
	if nm.Subject != "appointment.created" || nm.Header.Get("key") != "appt-9" || nm.Header.Get("ce_type") != appointment.EventCreated {
		t.Fatalf("nats msg = %+v", nm)
	}
}

type fakeDirectory struct {
	mu       sync.Mutex
	patients []directory.Patient
	doctors  []directory.Doctor
}

func (d *fakeDirectory) UpsertPatient(_ context.Context, p directory.Patient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients = append(d.patients, p)
	return nil
}

func (d *fakeDirectory) UpsertDoctor(_ context.Context, doc directory.Doctor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doctors = append(d.doctors, doc)
	return nil
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerFeedsDirectory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := &fakeDirectory{}
	handlers := NewExternalHandlers(dir, logger.NewNop()).Map()
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Topic: TopicPatientRegistered, Offset: 1, Value: []byte(`{"patientId":"p1","name":"Ada","email":"ada@example.com"}`)},
		{Topic: TopicDoctorAvailable, Offset: 2, Value: []byte(`{"eventType":"DoctorAvailable","payload":{"doctorId":"d1","name":"Grey","specialty":"cardiology"}}`)},
		{Topic: TopicCalendarSlotFreed, Offset: 3, Value: []byte(`{"doctorId":"d1"}`)},
		{Topic: TopicPatientRegistered, Offset: 4, Value: []byte(`not json`)},
		{Topic: "unknown.topic", Offset: 5, Value: []byte(`{}`)},
	}}
	c := &KafkaConsumer{reader: reader, handlers: handlers, log: logger.NewNop()}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(dir.patients) != 1 || dir.patients[0].ID != "p1" || *dir.patients[0].Email != "ada@example.com" || dir.patients[0].Phone != nil {
		t.Fatalf("patients = %+v", dir.patients)
	}
	if len(dir.doctors) != 1 || dir.doctors[0].ID != "d1" || !dir.doctors[0].Available || *dir.doctors[0].Specialty != "cardiology" {
		t.Fatalf("doctors = %+v", dir.doctors)
	}
	if want := []int64{1, 2, 3, 4, 5}; !reflect.DeepEqual(reader.committed, want) {
		t.Fatalf("committed = %v, want %v", reader.committed, want)
	}
}
