package controller

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/extract"
	"github.com/fyrsmithlabs/extractd/internal/fieldspec"
	"github.com/fyrsmithlabs/extractd/internal/record"
	"github.com/fyrsmithlabs/extractd/internal/retrieval"
	"github.com/fyrsmithlabs/extractd/internal/worker"
)

// runField drives one field through its state machine:
//
//	pending -> retrieving -> generating -> parsing -> filled | missing
//	                 ^                         |
//	                 +------- retry <----------+--> failed
//
// Each retry widens retrieval breadth by the field's initial k and relaxes
// the evidence threshold by a fixed step down to the configured floor, so
// broadening is strictly bounded. Parse errors and transient worker errors
// consume attempts; fatal worker errors abort immediately.
func (c *Controller) runField(ctx context.Context, spec fieldspec.FieldSpec, retriever retrieval.Retriever) (record.FieldOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "controller.field",
		trace.WithAttributes(attribute.String("field.id", spec.ID)))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt); err != nil {
				return record.FieldOutcome{}, err
			}
		}

		k := spec.RetrievalK * attempt
		threshold := spec.EvidenceThreshold - c.cfg.ThresholdStep*float64(attempt-1)
		if threshold < c.cfg.ThresholdFloor {
			threshold = c.cfg.ThresholdFloor
		}

		candidates, err := retriever.Query(spec.Query, k)
		if err != nil {
			// Querying before indexing is a precondition violation;
			// nothing about it improves on retry.
			return record.FieldOutcome{}, err
		}

		outcome, err := c.extractor.Extract(ctx, spec, candidates, threshold)
		if err == nil {
			outcome.Attempts = attempt
			c.logger.Debug("field resolved",
				zap.String("field", spec.ID),
				zap.String("status", string(outcome.Status)),
				zap.Int("attempt", attempt))
			return outcome, nil
		}

		if worker.IsFatal(err) {
			return record.FieldOutcome{}, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return record.FieldOutcome{}, err
		}

		lastErr = err
		c.logger.Warn("field attempt failed",
			zap.String("field", spec.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", spec.MaxAttempts),
			zap.Error(err))
	}

	return record.FieldOutcome{
		FieldID:   spec.ID,
		Status:    record.StatusFailed,
		Attempts:  spec.MaxAttempts,
		LastError: errorKind(lastErr),
		UpdatedAt: c.now().UTC(),
	}, nil
}

// backoff waits before retry attempt n, doubling from the base each time.
func (c *Controller) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.BaseBackoff * time.Duration(1<<(attempt-2))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorKind renders a failure cause as the recorded reason string.
func errorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var pe *extract.ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	if kind := worker.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}
