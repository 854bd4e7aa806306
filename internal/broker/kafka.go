package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes records to one writer per topic. Messages are
// keyed by aggregate id and hashed to a partition, so consumers see one
// aggregate's events in version order.
type KafkaPublisher struct {
	encoder   *Encoder
	log       *logger.Logger
	newWriter func(topic string) messageWriter

	mu      sync.Mutex
	writers map[string]messageWriter
}

func NewKafkaPublisher(brokers []string, encoder *Encoder, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		encoder: encoder,
		log:     log.With("component", "kafka_publisher"),
		writers: make(map[string]messageWriter),
		newWriter: func(topic string) messageWriter {
			return &kafka.Writer{
				Addr:                   kafka.TCP(brokers...),
				Topic:                  topic,
				Balancer:               &kafka.Hash{},
				RequiredAcks:           kafka.RequireAll,
				BatchTimeout:           10 * time.Millisecond,
				AllowAutoTopicCreation: true,
			}
		},
	}
}

func (p *KafkaPublisher) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish sends records in order. Consecutive records for the same topic
// go out in a single write.
func (p *KafkaPublisher) Publish(ctx context.Context, records []es.Record) error {
	var (
		batch []kafka.Message
		topic string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer(topic).WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		p.log.Debug("published to kafka", "topic", topic, "count", len(batch))
		batch = nil
		return nil
	}

	for _, rec := range records {
		msg, err := p.encoder.Encode(rec)
		if err != nil {
			return err
		}
		if msg.Topic != topic {
			if err := flush(); err != nil {
				return err
			}
			topic = msg.Topic
		}
		batch = append(batch, toKafka(msg))
	}
	return flush()
}

func toKafka(m Message) kafka.Message {
	km := kafka.Message{Key: []byte(m.Key), Value: m.Value}
	for _, h := range m.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}
	return km
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer for %s: %w", topic, err))
		}
	}
	p.writers = make(map[string]messageWriter)
	return errors.Join(errs...)
}
