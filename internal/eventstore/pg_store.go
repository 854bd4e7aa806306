// Package eventstore persists event streams in Postgres.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/eventsourced-scheduling/internal/es"
)

const uniqueViolation = "23505"

// PgStore is an es.Store over the event_store table. The unique
// (aggregate_id, version) constraint backs the in-transaction version
// check when two writers race.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Append(ctx context.Context, aggregateID string, expectedVersion int, records []es.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM event_store
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&current)
	if err != nil {
		return fmt.Errorf("read stream version: %w", err)
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: %s at version %d, expected %d", es.ErrVersionConflict, aggregateID, current, expectedVersion)
	}

	batch := &pgx.Batch{}
	for i, r := range records {
		if r.Version != expectedVersion+i+1 {
			return fmt.Errorf("append %s: record %d has version %d, want %d", aggregateID, i, r.Version, expectedVersion+i+1)
		}
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(`
			INSERT INTO event_store (event_id, aggregate_id, aggregate_type, version, event_type, occurred_on, payload, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.EventID, aggregateID, r.AggregateType, r.Version, r.EventType, r.OccurredOn, []byte(r.Payload), metadata)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s raced at version %d", es.ErrVersionConflict, aggregateID, expectedVersion)
		}
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *PgStore) Load(ctx context.Context, aggregateID string) ([]es.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, aggregate_id, aggregate_type, version, event_type, occurred_on, payload, metadata
		FROM event_store
		WHERE aggregate_id = $1
		ORDER BY version
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []es.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRecord(row pgx.Row) (es.Record, error) {
	var (
		r       es.Record
		payload []byte
	)
	err := row.Scan(
		&r.EventID,
		&r.AggregateID,
		&r.AggregateType,
		&r.Version,
		&r.EventType,
		&r.OccurredOn,
		&payload,
		&r.Metadata,
	)
	if err != nil {
		return es.Record{}, err
	}
	r.Payload = payload
	r.OccurredOn = r.OccurredOn.UTC()
	return r, nil
}
