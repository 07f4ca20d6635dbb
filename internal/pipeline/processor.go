package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/skyquery/skyquery/internal/browser"
	"github.com/skyquery/skyquery/internal/common"
	"github.com/skyquery/skyquery/internal/flight"
)

// Solver clears the challenge on a prepared query form.
type Solver interface {
	Solve(ctx context.Context, record flight.InputRecord) ([]flight.CaptchaAttempt, error)
}

// Extractor reads the legs off the result page.
type Extractor interface {
	Extract(ctx context.Context, record flight.InputRecord) ([]flight.LegRecord, error)
}

// Processor runs one input record end to end: validate, drive the query
// form, clear the captcha, extract the legs. Every failure comes back
// classified inside the outcome; Process itself never returns an error.
type Processor struct {
	session   browser.Session
	solver    Solver
	extractor Extractor
	website   common.WebsiteConfig
	retry     common.RetryConfig
	logger    *slog.Logger
}

func NewProcessor(session browser.Session, solver Solver, extractor Extractor, website common.WebsiteConfig, retry common.RetryConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		session:   session,
		solver:    solver,
		extractor: extractor,
		website:   website,
		retry:     retry,
		logger:    logger,
	}
}

// Process handles one record. Invalid records are rejected before any
// page interaction.
func (p *Processor) Process(ctx context.Context, record flight.InputRecord) flight.RecordOutcome {
	if err := record.Validate(); err != nil {
		p.logger.Warn("pipeline.invalid_input", "flight", record.FlightNumber, "error", err)
		return flight.RecordOutcome{Record: record, Err: flight.Classify(err, "input validation")}
	}
	record = record.Normalized()

	log := p.logger.With("flight", record.FlightNumber, "date", record.DateString())

	if err := p.prepareForm(ctx, record); err != nil {
		log.Error("pipeline.form.failed", "error", err)
		return flight.RecordOutcome{Record: record, Err: p.classify(err, "preparing query form")}
	}

	attempts, err := p.solver.Solve(ctx, record)
	log.Info("pipeline.captcha.done", "attempts", len(attempts), "solved", err == nil)
	if err != nil {
		return flight.RecordOutcome{Record: record, Err: p.classify(err, "solving captcha")}
	}

	legs, err := p.extractor.Extract(ctx, record)
	if err != nil {
		log.Warn("pipeline.extract.failed", "error", err)
		return flight.RecordOutcome{Record: record, Err: p.classify(err, "extracting legs")}
	}

	log.Info("pipeline.record.ok", "legs", len(legs))
	return flight.RecordOutcome{Record: record, Legs: legs}
}

// prepareForm navigates to the query page and fills in the search fields,
// retrying transient navigation failures under the attempt budget.
func (p *Processor) prepareForm(ctx context.Context, record flight.InputRecord) error {
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			p.logger.Debug("pipeline.form.retry", "flight", record.FlightNumber, "attempt", attempt)
		}
		return p.fillForm(ctx, record)
	}

	maxRetries := uint64(0)
	if p.retry.MaxAttempts > 1 {
		maxRetries = uint64(p.retry.MaxAttempts - 1)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(p.retry.DelayBetweenAttempts.Std()), maxRetries),
		ctx)
	return backoff.Retry(op, policy)
}

func (p *Processor) fillForm(ctx context.Context, record flight.InputRecord) error {
	sel := p.website.Selectors
	if err := p.session.Navigate(ctx, p.website.BaseURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := p.session.Click(ctx, sel.FlightNumberTab); err != nil {
		return fmt.Errorf("flight number tab: %w", err)
	}
	if err := p.session.Fill(ctx, sel.FlightNumberInput, record.FlightNumber); err != nil {
		return fmt.Errorf("flight number input: %w", err)
	}
	if err := p.session.Fill(ctx, sel.DepartureDateInput, record.DateString()); err != nil {
		return fmt.Errorf("departure date input: %w", err)
	}
	return nil
}

// classify maps browser-level errors onto the page-interaction kind and
// defers everything else to the shared taxonomy.
func (p *Processor) classify(err error, message string) *flight.Failure {
	switch {
	case errors.Is(err, browser.ErrElementNotFound),
		errors.Is(err, browser.ErrTimeout),
		errors.Is(err, browser.ErrSessionClosed):
		return flight.NewFailure(flight.KindPageInteractionFailed, message, err)
	default:
		return flight.Classify(err, message)
	}
}
