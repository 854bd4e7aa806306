package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

type MessageHandler func(ctx context.Context, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads the external topics in a consumer group. A message
// is committed after its handler returns, whether or not it failed;
// handler errors are logged so one bad message cannot block the partition.
type KafkaConsumer struct {
	reader   messageReader
	handlers map[string]MessageHandler
	log      *logger.Logger
}

func NewKafkaConsumer(brokers []string, groupID string, handlers map[string]MessageHandler, log *logger.Logger) *KafkaConsumer {
	topics := make([]string, 0, len(handlers))
	for t := range handlers {
		topics = append(topics, t)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	})
	return &KafkaConsumer{reader: reader, handlers: handlers, log: log.With("component", "kafka_consumer")}
}

// Run blocks until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info("kafka consumer started", "topics", len(c.handlers))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("fetch message failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Error("commit offset failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) {
	h, ok := c.handlers[msg.Topic]
	if !ok {
		c.log.Warn("no handler for topic", "topic", msg.Topic)
		return
	}
	if err := h(ctx, msg.Value); err != nil {
		c.log.Error("handle message failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

type PatientRegistered struct {
	PatientID    string    `json:"patientId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type Slot struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type DoctorAvailable struct {
	DoctorID       string    `json:"doctorId"`
	Name           string    `json:"name"`
	Specialty      string    `json:"specialty"`
	AvailableSlots []Slot    `json:"availableSlots"`
	AvailableAt    time.Time `json:"availableAt"`
}

type CalendarSlotFreed struct {
	DoctorID  string    `json:"doctorId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	FreedAt   time.Time `json:"freedAt"`
}

type DirectoryWriter interface {
	UpsertPatient(ctx context.Context, p directory.Patient) error
	UpsertDoctor(ctx context.Context, d directory.Doctor) error
}

// ExternalHandlers keeps the local directory in step with the patient and
// doctor contexts.
type ExternalHandlers struct {
	dir DirectoryWriter
	log *logger.Logger
}

func NewExternalHandlers(dir DirectoryWriter, log *logger.Logger) *ExternalHandlers {
	return &ExternalHandlers{dir: dir, log: log.With("component", "external_events")}
}

func (h *ExternalHandlers) Map() map[string]MessageHandler {
	return map[string]MessageHandler{
		TopicPatientRegistered: h.PatientRegistered,
		TopicDoctorAvailable:   h.DoctorAvailable,
		TopicCalendarSlotFreed: h.CalendarSlotFreed,
	}
}

func (h *ExternalHandlers) PatientRegistered(ctx context.Context, value []byte) error {
	var e PatientRegistered
	if err := json.Unmarshal(PayloadOf(value), &e); err != nil {
		return fmt.Errorf("decode %s: %w", TopicPatientRegistered, err)
	}
	if e.PatientID == "" || e.Name == "" {
		return fmt.Errorf("%s: patientId and name are required", TopicPatientRegistered)
	}
	h.log.Info("patient registered", "patient_id", e.PatientID)
	return h.dir.UpsertPatient(ctx, directory.Patient{
		ID:    e.PatientID,
		Name:  e.Name,
		Email: directory.Optional(e.Email),
		Phone: directory.Optional(e.Phone),
	})
}

func (h *ExternalHandlers) DoctorAvailable(ctx context.Context, value []byte) error {
	var e DoctorAvailable
	if err := json.Unmarshal(PayloadOf(value), &e); err != nil {
		return fmt.Errorf("decode %s: %w", TopicDoctorAvailable, err)
	}
	if e.DoctorID == "" || e.Name == "" {
		return fmt.Errorf("%s: doctorId and name are required", TopicDoctorAvailable)
	}
	h.log.Info("doctor available", "doctor_id", e.DoctorID, "slots", len(e.AvailableSlots))
	return h.dir.UpsertDoctor(ctx, directory.Doctor{
		ID:        e.DoctorID,
		Name:      e.Name,
		Specialty: directory.Optional(e.Specialty),
		Available: true,
	})
}

// CalendarSlotFreed is informational here; booking stays with the
// calendar context.
func (h *ExternalHandlers) CalendarSlotFreed(_ context.Context, value []byte) error {
	var e CalendarSlotFreed
	if err := json.Unmarshal(PayloadOf(value), &e); err != nil {
		return fmt.Errorf("decode %s: %w", TopicCalendarSlotFreed, err)
	}
	h.log.Info("calendar slot freed", "doctor_id", e.DoctorID, "start", e.StartTime, "end", e.EndTime)
	return nil
}
