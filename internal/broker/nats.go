package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url, name string, log *logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// NATSPublisher publishes each record on the subject named by its topic.
// NATS has no partition key so the aggregate id travels as a header.
type NATSPublisher struct {
	conn    natsConn
	encoder *Encoder
	log     *logger.Logger
}

func NewNATSPublisher(conn *nats.Conn, encoder *Encoder, log *logger.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, encoder: encoder, log: log.With("component", "nats_publisher")}
}

func (p *NATSPublisher) Publish(ctx context.Context, records []es.Record) error {
	for _, rec := range records {
		msg, err := p.encoder.Encode(rec)
		if err != nil {
			return err
		}
		if err := p.conn.PublishMsg(toNATS(msg)); err != nil {
			return fmt.Errorf("publish to %s: %w", msg.Topic, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	p.log.Debug("published to nats", "count", len(records))
	return nil
}

func toNATS(m Message) *nats.Msg {
	msg := nats.NewMsg(m.Topic)
	msg.Data = m.Value
	msg.Header.Set("key", m.Key)
	for _, h := range m.Headers {
		msg.Header.Set(h.Key, h.Value)
	}
	return msg
}

// NopPublisher drops records. Used when EVENT_TRANSPORT is none; the
// in-process dispatcher still runs projections and sagas.
type NopPublisher struct {
	Log *logger.Logger
}

func (p NopPublisher) Publish(_ context.Context, records []es.Record) error {
	if p.Log != nil {
		p.Log.Debug("event transport disabled, records not published", "count", len(records))
	}
	return nil
}
