// Package telemetry defines the structured signals the services emit for
// an external collector: rejected commands, saga outcomes and
// compensations.
package telemetry

import (
	"context"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

type SagaStatus string

const (
	SagaSucceeded   SagaStatus = "succeeded"
	SagaCompensated SagaStatus = "compensated"
	SagaFailed      SagaStatus = "failed"
	SagaSkipped     SagaStatus = "skipped"
)

type SagaOutcome struct {
	Saga          string
	Key           string
	Status        SagaStatus
	FailedStep    string
	Err           error
	Compensations int
	Duration      time.Duration
}

type Emitter interface {
	CommandRejected(ctx context.Context, aggregate, command, id string, err error)
	SagaFinished(ctx context.Context, outcome SagaOutcome)
	CompensationTriggered(ctx context.Context, saga, key, step string, err error)
}

// LogEmitter writes every signal as a structured log record with a stable
// "signal" key so collectors can filter on it.
type LogEmitter struct {
	log *logger.Logger
}

func NewLogEmitter(log *logger.Logger) *LogEmitter {
	return &LogEmitter{log: log.With("component", "telemetry")}
}

func (e *LogEmitter) CommandRejected(_ context.Context, aggregate, command, id string, err error) {
	e.log.Warn("command rejected",
		"signal", "command_rejected",
		"aggregate", aggregate,
		"command", command,
		"aggregate_id", id,
		"error", err,
	)
}

func (e *LogEmitter) SagaFinished(_ context.Context, o SagaOutcome) {
	kv := []interface{}{
		"signal", "saga_outcome",
		"saga", o.Saga,
		"key", o.Key,
		"status", string(o.Status),
		"duration", o.Duration,
	}
	if o.Err != nil {
		kv = append(kv, "failed_step", o.FailedStep, "compensations", o.Compensations, "error", o.Err)
		e.log.Error("saga finished", kv...)
		return
	}
	e.log.Info("saga finished", kv...)
}

func (e *LogEmitter) CompensationTriggered(_ context.Context, saga, key, step string, err error) {
	e.log.Warn("compensation triggered",
		"signal", "compensation_triggered",
		"saga", saga,
		"key", key,
		"step", step,
		"error", err,
	)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) CommandRejected(context.Context, string, string, string, error)       {}
func (Nop) SagaFinished(context.Context, SagaOutcome)                            {}
func (Nop) CompensationTriggered(context.Context, string, string, string, error) {}
