package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

// RecordProcessor handles a single input record. Failures come back inside
// the outcome, already classified.
type RecordProcessor interface {
	Process(ctx context.Context, record flight.InputRecord) flight.RecordOutcome
}

// Orchestrator runs a batch sequentially, in input order, pacing requests
// so the target site is not hammered. One record failing never stops the
// batch; cancellation does, and the partial result is still returned so
// callers can flush what was collected.
type Orchestrator struct {
	processor RecordProcessor
	retry     common.RetryConfig
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(processor RecordProcessor, retry common.RetryConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		processor: processor,
		retry:     retry,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes records in order and folds every outcome into the result.
// The returned error is non-nil only when the context was cancelled; the
// result always holds whatever was processed up to that point.
func (o *Orchestrator) Run(ctx context.Context, records []flight.InputRecord) (*flight.BatchResult, error) {
	result := &flight.BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := o.logger.With("run_id", result.RunID)
	log.Info("batch.start", "records", len(records))

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			log.Warn("batch.cancelled", "processed", i, "remaining", len(records)-i)
			result.FinishedAt = time.Now()
			return result, err
		}

		outcome := o.processor.Process(ctx, record)
		result.Append(outcome)
		o.logOutcome(log, i, outcome)

		if i == len(records)-1 {
			break
		}
		delay := o.retry.FlightDelay.Std()
		if outcome.Err != nil && outcome.Err.Kind == flight.KindRateLimited {
			// Cool off for a full window before touching the site again.
			delay += o.retry.RateLimitWindow.Std()
		}
		if err := o.sleep(ctx, delay); err != nil {
			log.Warn("batch.cancelled", "processed", i+1, "remaining", len(records)-i-1)
			result.FinishedAt = time.Now()
			return result, err
		}
	}

	result.FinishedAt = time.Now()
	log.Info("batch.done",
		"total", result.Counts.Total,
		"succeeded", result.Counts.Succeeded,
		"failed", result.Counts.Failed,
		"partial", result.Counts.Partial,
		"elapsed", result.FinishedAt.Sub(result.StartedAt).String())
	return result, nil
}

func (o *Orchestrator) logOutcome(log *slog.Logger, idx int, outcome flight.RecordOutcome) {
	if outcome.Success() {
		log.Info("batch.record.ok",
			"index", idx,
			"flight", outcome.Record.FlightNumber,
			"legs", len(outcome.Legs),
			"partial", outcome.Partial())
		return
	}
	log.Warn("batch.record.failed",
		"index", idx,
		"flight", outcome.Record.FlightNumber,
		"kind", string(outcome.Err.Kind),
		"error", outcome.Err.Error())
}
