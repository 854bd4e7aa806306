package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/telemetry"
)

const compensationTimeout = 30 * time.Second

type compensation struct {
	step string
	fn   func(context.Context) error
}

// Scope records the compensations of the steps that completed so a later
// failure can undo them.
type Scope struct {
	saga       string
	key        string
	retry      RetryPolicy
	log        *logger.Logger
	comps      []compensation
	failedStep string
}

// Step runs fn with retries. Non-committing steps use this directly.
func (s *Scope) Step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := s.attempt(ctx, name, fn); err != nil {
		s.failedStep = name
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Compensable runs fn and, once it succeeds, registers compensate to run
// if a later step fails.
func (s *Scope) Compensable(ctx context.Context, name string, fn, compensate func(context.Context) error) error {
	if err := s.Step(ctx, name, fn); err != nil {
		return err
	}
	s.comps = append(s.comps, compensation{step: name, fn: compensate})
	return nil
}

func (s *Scope) attempt(ctx context.Context, name string, fn func(context.Context) error) error {
	tries := s.retry.MaxTries
	if tries == 0 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn("saga step failed, retrying", "step", name, "wait", wait, "error", err)
		}),
	}
	if s.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.retry.MaxElapsed))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// compensate runs registered compensations newest first, each once. Their
// failures are logged and otherwise ignored.
func (s *Scope) compensate(ctx context.Context) int {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	ran := 0
	for i := len(s.comps) - 1; i >= 0; i-- {
		c := s.comps[i]
		ran++
		if err := c.fn(cctx); err != nil {
			s.log.Error("compensation failed", "step", c.step, "error", err)
			continue
		}
		s.log.Info("compensation applied", "step", c.step)
	}
	return ran
}

// Run executes body inside a fresh Scope. Whatever happens, the outcome is
// logged and emitted and returned to the caller for inspection; it is
// never turned into an error.
func Run(ctx context.Context, deps *Deps, saga, key string, body func(context.Context, *Scope) error) telemetry.SagaOutcome {
	log := deps.Log.With("saga", saga, "key", key)
	sc := &Scope{saga: saga, key: key, retry: deps.Retry, log: log}

	start := time.Now()
	err := runBody(ctx, sc, body)
	outcome := telemetry.SagaOutcome{Saga: saga, Key: key, Status: telemetry.SagaSucceeded}

	if err != nil {
		outcome.Err = err
		outcome.FailedStep = sc.failedStep
		outcome.Status = telemetry.SagaFailed
		if len(sc.comps) > 0 {
			deps.Emitter.CompensationTriggered(ctx, saga, key, sc.failedStep, err)
			outcome.Compensations = sc.compensate(ctx)
			outcome.Status = telemetry.SagaCompensated
		}
		log.Error("saga failed", "failed_step", sc.failedStep, "compensations", outcome.Compensations, "error", err)
	}

	outcome.Duration = time.Since(start)
	deps.Emitter.SagaFinished(ctx, outcome)
	return outcome
}

func runBody(ctx context.Context, sc *Scope, body func(context.Context, *Scope) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("saga panicked: %v", r)
		}
	}()
	return body(ctx, sc)
}
